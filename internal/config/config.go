package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for the server and the CLI.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Profile storage. An empty directory disables persistence.
	StorageDir         string        `env:"PROFILE_STORAGE_DIR"`
	Compression        string        `env:"PROFILE_COMPRESSION" envDefault:"none"` // "none" or "zstd"
	BackupDir          string        `env:"BACKUP_DIR"`                            // defaults to <storage dir>/backup
	BackupInterval     time.Duration `env:"BACKUP_INTERVAL" envDefault:"0s"`       // 0 disables periodic backups
	MetadataExportPath string        `env:"METADATA_EXPORT_PATH"`

	// Cache
	CacheProvider string        `env:"CACHE_PROVIDER" envDefault:"none"` // "none" or "redis"
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"10m"`

	// Events
	EventsProvider string `env:"EVENTS_PROVIDER" envDefault:"none"` // "none" or "nats"
	QueueURL       string `env:"QUEUE_URL"`

	// Catalog
	CatalogProvider string `env:"CATALOG_PROVIDER" envDefault:"none"` // "none" or "postgres"
	DBURL           string `env:"DB_URL"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
