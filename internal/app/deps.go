package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"voice-id/internal/cache"
	"voice-id/internal/catalog"
	"voice-id/internal/config"
	"voice-id/internal/events"
	"voice-id/internal/logger"
	"voice-id/internal/profilestore"
	"voice-id/internal/registry"
)

// Deps bundles common runtime dependencies for the server and the CLI.
type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Store    *profilestore.Store
	Registry *registry.Registry

	closers []func() error
}

// Close releases network connections opened by Build.
func (d Deps) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// LoadConfig reads .env when present, then the environment.
func LoadConfig() (config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return config.Load(), nil
}

// Build loads env, config, and shared components, logging to stdout.
func Build(ctx context.Context) (Deps, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return Deps{}, err
	}
	return BuildWith(ctx, cfg, logger.New(cfg.LogLevel))
}

// BuildWith wires the components described by cfg. The registry is
// hydrated from the profile directory before BuildWith returns.
func BuildWith(ctx context.Context, cfg config.Config, log *slog.Logger) (Deps, error) {
	deps := Deps{Config: cfg, Log: log}

	compression, err := profilestore.ParseCompression(cfg.Compression)
	if err != nil {
		return Deps{}, fmt.Errorf("invalid PROFILE_COMPRESSION: %w", err)
	}
	st, err := profilestore.New(cfg.StorageDir,
		profilestore.WithLogger(log.With("component", "profilestore")),
		profilestore.WithCompression(compression),
	)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize profile store: %w", err)
	}
	deps.Store = st

	c, err := buildCache(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize cache: %w", err)
	}
	deps.closers = append(deps.closers, c.Close)

	pub, err := buildPublisher(cfg, log, &deps)
	if err != nil {
		_ = deps.Close()
		return Deps{}, fmt.Errorf("failed to initialize events: %w", err)
	}

	opts := []registry.Option{
		registry.WithLogger(log.With("component", "registry")),
		registry.WithCache(c, cfg.CacheTTL),
		registry.WithPublisher(pub),
	}
	cat, err := buildCatalog(cfg, log, &deps)
	if err != nil {
		_ = deps.Close()
		return Deps{}, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	if cat != nil {
		opts = append(opts, registry.WithCatalog(cat))
	}

	reg, err := registry.New(ctx, st, opts...)
	if err != nil {
		_ = deps.Close()
		return Deps{}, fmt.Errorf("failed to initialize registry: %w", err)
	}
	deps.Registry = reg
	return deps, nil
}

func buildCache(cfg config.Config, log *slog.Logger) (cache.Cache, error) {
	switch cfg.CacheProvider {
	case "", "none":
		return cache.NewNoOpCache(), nil
	case "redis":
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			// The cache only saves recomputation; run without it.
			log.Warn("redis unavailable, embedding cache disabled", "addr", cfg.RedisAddr, "err", err)
			return cache.NewNoOpCache(), nil
		}
		log.Info("using Redis embedding cache", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
		return rc, nil
	default:
		return nil, fmt.Errorf("invalid CACHE_PROVIDER: %s (valid options: none, redis)", cfg.CacheProvider)
	}
}

func buildPublisher(cfg config.Config, log *slog.Logger, deps *Deps) (events.Publisher, error) {
	switch cfg.EventsProvider {
	case "", "none":
		return events.NoOpPublisher{}, nil
	case "nats":
		if cfg.QueueURL == "" {
			return nil, fmt.Errorf("QUEUE_URL is required when EVENTS_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		deps.closers = append(deps.closers, func() error { return nc.Drain() })
		log.Info("using NATS events")
		return events.NewNATS(log, nc), nil
	default:
		return nil, fmt.Errorf("invalid EVENTS_PROVIDER: %s (valid options: none, nats)", cfg.EventsProvider)
	}
}

func buildCatalog(cfg config.Config, log *slog.Logger, deps *Deps) (catalog.Catalog, error) {
	switch cfg.CatalogProvider {
	case "", "none":
		return nil, nil
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when CATALOG_PROVIDER=postgres")
		}
		db, err := catalog.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		deps.closers = append(deps.closers, db.Close)
		log.Info("using Postgres catalog")
		return db, nil
	default:
		return nil, fmt.Errorf("invalid CATALOG_PROVIDER: %s (valid options: none, postgres)", cfg.CatalogProvider)
	}
}
