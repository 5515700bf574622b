package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/tripstream/internal/config"
	"github.com/tjfontaine/tripstream/internal/storage"
	"github.com/tjfontaine/tripstream/internal/storage/memory"
	"github.com/tjfontaine/tripstream/internal/storage/sqlite"
	"github.com/tjfontaine/tripstream/internal/telemetry"
)

// app holds what every command shares once setup has run.
var app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Provider
	shutdown func(context.Context) error
}

// flagOverrides maps persistent flags onto config keys.
var flagOverrides = map[string]string{
	"log-level": "log.level",
	"telemetry": "telemetry.enabled",
	"storage":   "storage.type",
}

func setup(cmd *cobra.Command) error {
	// Load .env file if it exists
	_ = godotenv.Load()

	overrides := make(map[string]any)
	for flag, key := range flagOverrides {
		f := cmd.Flags().Lookup(flag)
		if f != nil && f.Changed {
			overrides[key] = f.Value.String()
		}
	}
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path, overrides)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.cfg = cfg

	// Logs go to stderr so stdout stays machine readable.
	app.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(app.logger)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(telemetry.ServiceName, os.Stderr, app.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		app.shutdown = shutdown
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}
	app.store = store
	return nil
}

// teardown flushes the tracer and closes storage. It is safe to call more
// than once and after a failed setup.
func teardown() {
	if app.shutdown != nil {
		if err := app.shutdown(context.Background()); err != nil {
			app.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
		app.shutdown = nil
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
		app.store = nil
	}
}

// openStorage returns the configured provider, or nil for "none".
func openStorage(cfg config.StorageConfig) (storage.Provider, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func requireStore() (storage.Provider, error) {
	if app.store == nil {
		return nil, fmt.Errorf("storage is disabled; set storage.type to memory or sqlite")
	}
	return app.store, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
