package observability

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// NewHTTPClient returns an http.Client whose transport injects the current
// trace context into outgoing requests and logs request duration, the
// hand-rolled equivalent of otelhttp.NewTransport built against only the
// otel core API (no contrib instrumentation module is part of the curated
// dependency set).
func NewHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = tracingTransport{next: rt}
	return base
}

type tracingTransport struct {
	next http.RoundTripper
}

func (t tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(req.Header))
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	evt := log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Dur("duration", time.Since(start))
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	if err != nil {
		evt.Err(err).Msg("outbound http request failed")
		return resp, err
	}
	evt.Int("status", resp.StatusCode).Msg("outbound http request")
	return resp, nil
}

// WithHeaders returns an http.Client that injects fixed headers into every
// outgoing request without overwriting a header the caller already set.
func WithHeaders(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = headerTransport{next: rt, headers: headers}
	return base
}

type headerTransport struct {
	next    http.RoundTripper
	headers map[string]string
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		if clone.Header.Get(k) == "" {
			clone.Header.Set(k, v)
		}
	}
	return t.next.RoundTrip(clone)
}
