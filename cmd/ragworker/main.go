// Command ragworker runs the background job-queue consumers for the
// ingest_document and enrich_document pipelines (§4.4, §4.5), sharing the
// same startup wiring as ragd but with no HTTP surface of its own.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"atomicrag/internal/config"
	"atomicrag/internal/domain"
	"atomicrag/internal/jobqueue"
	"atomicrag/internal/observability"
	"atomicrag/internal/wire"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	observability.InitLogger("", envOrDefault("LOG_LEVEL", "info"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("ragworker: failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, "ragworker", cfg.Environment)
	if err != nil {
		log.Warn().Err(err).Msg("ragworker: tracing disabled, continuing without it")
	} else {
		defer shutdownTracing(context.Background())
	}

	bundle, err := wire.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("ragworker: failed to wire dependencies")
	}
	defer bundle.Close()

	onTerminal := func(tenantID, jobID string, jobType domain.JobType, status domain.JobStatus) {
		bundle.Events.PublishJobTerminal(context.Background(), tenantID, jobID, jobType, status)
	}

	ingestWorker := jobqueue.NewWorker("ragworker-ingest", domain.JobIngestDocument, bundle.Queue, bundle.IngestH.Handle, jobqueue.DefaultPolicy())
	ingestWorker.OnTerminal = onTerminal

	enrichWorker := jobqueue.NewWorker("ragworker-enrich", domain.JobEnrichDocument, bundle.Queue, bundle.EnrichH.Handle, jobqueue.DefaultPolicy())
	enrichWorker.OnTerminal = onTerminal

	log.Info().Msg("ragworker: starting ingest and enrich consumers")
	go ingestWorker.Run(ctx)
	go enrichWorker.Run(ctx)

	<-ctx.Done()
	log.Info().Msg("ragworker: shutting down")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
