package cache

import (
	"context"
	"time"

	"voice-id/internal/embeddings"
)

// NoOpCache is a cache implementation that does nothing.
// Used when CACHE_PROVIDER=none or Redis is unavailable: every call
// succeeds and every read is a miss.
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// GetEmbedding always returns nil (cache miss)
func (c *NoOpCache) GetEmbedding(ctx context.Context, speakerID string) (embeddings.Vector, error) {
	return nil, nil
}

// SetEmbedding does nothing and always succeeds
func (c *NoOpCache) SetEmbedding(ctx context.Context, speakerID string, v embeddings.Vector, ttl time.Duration) error {
	return nil
}

// InvalidateSpeaker does nothing and always succeeds
func (c *NoOpCache) InvalidateSpeaker(ctx context.Context, speakerID string) error {
	return nil
}

// Flush does nothing and always succeeds
func (c *NoOpCache) Flush(ctx context.Context) error {
	return nil
}

// Close does nothing and always succeeds
func (c *NoOpCache) Close() error {
	return nil
}
