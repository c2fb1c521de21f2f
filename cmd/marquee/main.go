package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/marquee/internal/api"
	"github.com/MikeSquared-Agency/marquee/internal/config"
	"github.com/MikeSquared-Agency/marquee/internal/conversation"
	"github.com/MikeSquared-Agency/marquee/internal/hermes"
	"github.com/MikeSquared-Agency/marquee/internal/openai"
	"github.com/MikeSquared-Agency/marquee/internal/recommender"
	"github.com/MikeSquared-Agency/marquee/internal/store"
	"github.com/MikeSquared-Agency/marquee/internal/tmdb"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("marquee starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Conversation store: Postgres when configured, in-memory otherwise.
	var sessions conversation.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		sessions = pg
		slog.Info("database connected, sessions are durable")
	} else {
		sessions = conversation.NewMemoryStore()
		slog.Info("sessions held in process memory")
	}

	// Generation client
	if cfg.OpenAIAPIKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}
	llm := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	llm.SetTimeout(cfg.GenerateTimeout)
	slog.Info("generation client ready", "model", cfg.OpenAIModel)

	// Metadata client
	if cfg.TMDBAPIKey == "" {
		slog.Error("TMDB_API_KEY is required")
		os.Exit(1)
	}
	metadata := tmdb.NewClient(cfg.TMDBAPIKey, cfg.TMDBBaseURL, slog.Default())
	metadata.SetTimeout(cfg.LookupTimeout)
	slog.Info("metadata client ready")

	// NATS/Hermes (optional — marquee works without the event bus)
	var events recommender.EventPublisher
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		var err error
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		events = hermesClient
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured — running without swarm events")
	}

	// Recommender — the main pipeline
	rec := recommender.New(sessions, llm, metadata, events, recommender.DefaultRetryPolicy, slog.Default())

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, rec, sessions, llm, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if hermesClient != nil {
		if err := hermesClient.Publish(hermes.SubjectRegistered, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"model":     cfg.OpenAIModel,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("marquee ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("marquee stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
