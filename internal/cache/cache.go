package cache

import (
	"context"
	"time"

	"voice-id/internal/embeddings"
)

// Cache holds representative embeddings so repeated reads skip averaging.
type Cache interface {
	// GetEmbedding returns the cached representative embedding of a speaker.
	// Returns nil if not found.
	GetEmbedding(ctx context.Context, speakerID string) (embeddings.Vector, error)

	// SetEmbedding stores a representative embedding with TTL.
	SetEmbedding(ctx context.Context, speakerID string, v embeddings.Vector, ttl time.Duration) error

	// InvalidateSpeaker drops the cached embedding of one speaker.
	InvalidateSpeaker(ctx context.Context, speakerID string) error

	// Flush drops every cached embedding.
	Flush(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// EmbeddingKey is the cache key for a speaker's representative embedding.
func EmbeddingKey(speakerID string) string {
	return embeddingKeyPrefix + speakerID
}

const embeddingKeyPrefix = "voiceid:embedding:"
