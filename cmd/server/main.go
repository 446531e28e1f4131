// Command server runs the parley chat server.
//
// Configuration is layered: built-in defaults, a YAML config file
// (PARLEY_CONFIG or ./config.yaml or /etc/parley/config.yaml), then
// PARLEY_* environment overrides:
//
//	PARLEY_PORT            - Listen port (default: 8080)
//	PARLEY_STORAGE         - Storage type: "memory" or "postgres" (default: "memory")
//	PARLEY_POSTGRES_DSN    - PostgreSQL connection string
//	PARLEY_TOKEN_ESTIMATOR - "words" or "tiktoken" (default: "words")
//	PARLEY_MODELS          - JSON array of model catalog seed entries
//	PARLEY_DEBUG           - Debug log categories (e.g. "engines,streaming" or "all")
//	PARLEY_LOG_LEVEL       - trace, debug, info, warn, error
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rhuss/parley/pkg/chat"
	"github.com/rhuss/parley/pkg/config"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/engine"
	"github.com/rhuss/parley/pkg/engine/backends"
	"github.com/rhuss/parley/pkg/storage"
	"github.com/rhuss/parley/pkg/storage/memory"
	"github.com/rhuss/parley/pkg/storage/postgres"
	transporthttp "github.com/rhuss/parley/pkg/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	debug.Init(cfg.Logging.Debug, cfg.Logging.Level)

	ctx := context.Background()

	// Storage: one backing store serves both the conversation store and
	// the model catalog.
	store, catalog, err := buildStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := seedCatalog(ctx, catalog, cfg.Models); err != nil {
		return fmt.Errorf("seeding model catalog: %w", err)
	}

	estimate, err := buildEstimator(cfg)
	if err != nil {
		return fmt.Errorf("selecting token estimator: %w", err)
	}

	registry := engine.NewRegistry(backends.New)
	defer registry.Clear()

	orchestrator := chat.NewOrchestrator(store, catalog, registry, estimate)

	srv := transporthttp.NewServer(orchestrator, store,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(slog.Default()),
	)

	return srv.ListenAndServe()
}

// buildStorage constructs the configured storage backend.
func buildStorage(ctx context.Context, cfg *config.Config) (storage.ConversationStore, storage.ModelCatalog, error) {
	switch cfg.Storage.Type {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres")
		return store, store, nil

	default:
		store := memory.New()
		slog.Info("storage enabled", "type", "memory")
		return store, store, nil
	}
}

// seedCatalog upserts the configured models into the catalog.
func seedCatalog(ctx context.Context, catalog storage.ModelCatalog, models []config.ModelConfig) error {
	now := time.Now()
	for i := range models {
		desc := models[i].Descriptor(now)
		if err := catalog.PutModel(ctx, desc); err != nil {
			return fmt.Errorf("seeding model %s: %w", desc.ID, err)
		}
		slog.Info("model seeded", "id", desc.ID, "kind", desc.Kind, "active", desc.Active)
	}
	return nil
}

// buildEstimator selects the token accounting strategy.
func buildEstimator(cfg *config.Config) (chat.TokenEstimator, error) {
	if cfg.Chat.TokenEstimator == "tiktoken" {
		return chat.NewTiktokenEstimator(cfg.Chat.TiktokenModel)
	}
	return chat.EstimateByWords, nil
}
