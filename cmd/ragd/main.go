// Command ragd is the HTTP front door for the retrieval-augmented backend:
// it wires every storage/LLM/transport dependency via internal/wire and
// serves the documented external interface from internal/httpapi.
package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"atomicrag/internal/config"
	"atomicrag/internal/httpapi"
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
		log.Fatal().Err(err).Msg("ragd: failed to load configuration")
	}

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracing(ctx, "ragd", cfg.Environment)
	if err != nil {
		log.Warn().Err(err).Msg("ragd: tracing disabled, continuing without it")
	} else {
		defer shutdownTracing(ctx)
	}

	bundle, err := wire.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("ragd: failed to wire dependencies")
	}
	defer bundle.Close()

	server := httpapi.NewServer(&httpapi.Server{
		Sources:       bundle.Sources,
		Chunks:        bundle.Chunks,
		Queue:         bundle.Queue,
		Idem:          bundle.Idem,
		Store:         bundle.Store,
		Guard:         bundle.Guard,
		Chat:          bundle.Chat,
		Events:        bundle.Events,
		Retrieval:     bundle.Retrieval,
		ServiceSecret: cfg.ServiceSecret,
		StorageBucket: cfg.StorageBucket,
	})

	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	log.Info().Str("addr", addr).Msg("ragd listening")
	if err := http.ListenAndServe(addr, server.Routes()); err != nil {
		log.Fatal().Err(err).Msg("ragd: server exited")
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
