// Package tenant enforces the tenant-scoping invariants every repository
// call and HTTP request must satisfy (component C1 of the retrieval core).
package tenant

import (
	"context"
	"strings"

	"atomicrag/internal/domain"
)

type contextKey string

const (
	tenantKey      contextKey = "rag.tenant_id"
	correlationKey contextKey = "rag.correlation_id"
)

// WithTenant attaches a tenant id to ctx.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// WithCorrelationID attaches a correlation id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// FromContext returns the tenant id attached to ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tenantKey).(string)
	return v, ok && v != ""
}

// CorrelationID returns the correlation id attached to ctx, if any.
func CorrelationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(correlationKey).(string)
	return v, ok && v != ""
}

// RequireTenant extracts the request-scoped tenant id or fails with
// TENANT_HEADER_REQUIRED.
func RequireTenant(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", domain.ErrTenantHeaderRequired
	}
	return id, nil
}

// EnforceTenantMatch checks a payload-carried tenant id against the
// request-scoped value, failing with TENANT_MISMATCH and naming the
// offending location when they disagree.
func EnforceTenantMatch(ctx context.Context, payloadTenantID, location string) (string, error) {
	scoped, err := RequireTenant(ctx)
	if err != nil {
		return "", err
	}
	if payloadTenantID != "" && payloadTenantID != scoped {
		return "", domain.ErrTenantMismatch.WithDetails(map[string]any{
			"location": location,
			"expected": scoped,
			"actual":   payloadTenantID,
		})
	}
	return scoped, nil
}

// reservedMetadataKeys can never appear inside a scope filter's free-form
// metadata map; they would otherwise let a client spoof tenant scoping.
var reservedMetadataKeys = map[string]bool{
	"tenant_id":      true,
	"institution_id": true,
}

// knownTopLevelKeys bounds what a raw scope filter payload may carry.
var knownTopLevelKeys = map[string]bool{
	"metadata":         true,
	"time_range":       true,
	"source_standard":  true,
	"source_standards": true,
	"collection_id":    true,
}

// RawScopeFilter is the wire shape of a client-supplied filter, before
// normalization collapses singular/plural standard fields.
type RawScopeFilter struct {
	Metadata        map[string]string
	TimeRangeField  string
	TimeRangeFrom   string
	TimeRangeTo     string
	SourceStandard  string
	SourceStandards []string
	CollectionID    string
	UnknownKeys     []string
}

// NormalizeScope validates and canonicalizes a scope filter (§4.1). It never
// raises; violations are returned as a list alongside a best-effort filter.
func NormalizeScope(raw RawScopeFilter) (domain.ScopeFilter, []domain.ValidationViolation) {
	var violations []domain.ValidationViolation

	for _, k := range raw.UnknownKeys {
		if !knownTopLevelKeys[k] {
			violations = append(violations, domain.ValidationViolation{
				Code: "UNKNOWN_FILTER_KEY", Field: k,
				Message: "unrecognized top-level scope filter key",
			})
		}
	}

	for k := range raw.Metadata {
		if reservedMetadataKeys[strings.ToLower(k)] {
			violations = append(violations, domain.ValidationViolation{
				Code: "RESERVED_METADATA_KEY", Field: "metadata." + k,
				Message: "tenant_id/institution_id cannot be set via metadata",
			})
		}
	}

	out := domain.ScopeFilter{
		Metadata:     raw.Metadata,
		CollectionID: raw.CollectionID,
	}

	standards := append([]string{}, raw.SourceStandards...)
	if raw.SourceStandard != "" {
		standards = append(standards, raw.SourceStandard)
	}
	out.SourceStandards = dedupeNonEmpty(standards)

	if raw.TimeRangeField != "" {
		if raw.TimeRangeField != "created_at" && raw.TimeRangeField != "updated_at" {
			violations = append(violations, domain.ValidationViolation{
				Code: "INVALID_TIME_RANGE_FIELD", Field: "time_range.field",
				Message: "time_range.field must be created_at or updated_at",
			})
		}
	}

	return out, violations
}

func dedupeNonEmpty(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// AssertRowTenant verifies a row actually belongs to the requesting tenant
// (or is explicitly global). It backs the LeakCanary checks run over every
// final retrieval result set.
func AssertRowTenant(rowTenantID string, isGlobal bool, requestTenantID string) bool {
	if isGlobal {
		return true
	}
	return rowTenantID == requestTenantID
}
