package events

import (
	"context"
	"testing"

	"atomicrag/internal/domain"
)

func TestNewPublisherReturnsNilWithoutBrokers(t *testing.T) {
	if p := NewPublisher(nil, ""); p != nil {
		t.Fatalf("expected nil publisher when no brokers configured, got %v", p)
	}
}

func TestNilPublisherMethodsAreNoOps(t *testing.T) {
	var p *Publisher
	p.PublishIngestionEvent(context.Background(), "tenant-a", domain.IngestionEvent{SourceDocumentID: "doc-1"})
	p.PublishJobTerminal(context.Background(), "tenant-a", "job-1", domain.JobIngestDocument, domain.JobCompleted)
	p.Close()
}
