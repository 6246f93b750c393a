// Package events mirrors ingestion and job-terminal lifecycle transitions
// onto Kafka for external observability consumers (§11 DOMAIN STACK),
// gated by whether brokers are configured. Grounded on the teacher's
// internal/workspaces.KafkaCommitPublisher: a single kafka.Writer wrapped in
// a nil-receiver-safe publisher so a process with no brokers configured
// runs with a nil *Publisher and every call becomes a no-op.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"atomicrag/internal/domain"
)

// IngestionLifecycleEvent is the wire shape published for every
// IngestionEvent appended to a source document's progress stream.
type IngestionLifecycleEvent struct {
	TenantID         string         `json:"tenant_id"`
	SourceDocumentID string         `json:"source_document_id"`
	Status           domain.EventKind `json:"status"`
	Message          string         `json:"message"`
	PhaseMetadata    map[string]any `json:"phase_metadata,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

// JobLifecycleEvent is published whenever a job queue row reaches a
// terminal status (completed, failed, dead_letter).
type JobLifecycleEvent struct {
	TenantID  string         `json:"tenant_id"`
	JobID     string         `json:"job_id"`
	JobType   domain.JobType `json:"job_type"`
	Status    domain.JobStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher writes lifecycle events to Kafka. A nil *Publisher is valid and
// every method on it is a no-op, so callers can construct one unconditionally
// from config and skip an extra "is kafka enabled" branch at every call site.
type Publisher struct {
	ingestionWriter *kafka.Writer
	jobWriter       *kafka.Writer
}

// NewPublisher builds a Publisher against brokers, or returns nil when
// brokers is empty (KAFKA_BROKERS unset).
func NewPublisher(brokers []string, topicPrefix string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	if topicPrefix == "" {
		topicPrefix = "atomicrag"
	}
	return &Publisher{
		ingestionWriter: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topicPrefix + ".ingestion-events",
			Balancer: &kafka.LeastBytes{},
		},
		jobWriter: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topicPrefix + ".job-lifecycle",
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// PublishIngestionEvent mirrors an appended IngestionEvent onto Kafka.
func (p *Publisher) PublishIngestionEvent(ctx context.Context, tenantID string, ev domain.IngestionEvent) {
	if p == nil || p.ingestionWriter == nil {
		return
	}
	payload, err := json.Marshal(IngestionLifecycleEvent{
		TenantID:         tenantID,
		SourceDocumentID: ev.SourceDocumentID,
		Status:           ev.Status,
		Message:          ev.Message,
		PhaseMetadata:    ev.PhaseMetadata,
		Timestamp:        time.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("events: failed to marshal ingestion event")
		return
	}
	if err := p.ingestionWriter.WriteMessages(ctx, kafka.Message{Key: []byte(ev.SourceDocumentID), Value: payload}); err != nil {
		log.Warn().Err(err).Str("source_document_id", ev.SourceDocumentID).Msg("events: kafka publish failed")
	}
}

// PublishJobTerminal mirrors a job queue row's terminal transition onto Kafka.
func (p *Publisher) PublishJobTerminal(ctx context.Context, tenantID, jobID string, jobType domain.JobType, status domain.JobStatus) {
	if p == nil || p.jobWriter == nil {
		return
	}
	payload, err := json.Marshal(JobLifecycleEvent{
		TenantID:  tenantID,
		JobID:     jobID,
		JobType:   jobType,
		Status:    status,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("events: failed to marshal job lifecycle event")
		return
	}
	if err := p.jobWriter.WriteMessages(ctx, kafka.Message{Key: []byte(jobID), Value: payload}); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("events: kafka publish failed")
	}
}

// Close shuts down both writers.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.ingestionWriter != nil {
		if err := p.ingestionWriter.Close(); err != nil {
			log.Warn().Err(err).Msg("events: ingestion writer close failed")
		}
	}
	if p.jobWriter != nil {
		if err := p.jobWriter.Close(); err != nil {
			log.Warn().Err(err).Msg("events: job writer close failed")
		}
	}
}
