package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"voice-id/internal/embeddings"
)

type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache client
func NewRedisCache(addr, password string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisCache{
		client: client,
	}, nil
}

// GetEmbedding retrieves a cached representative embedding
func (c *RedisCache) GetEmbedding(ctx context.Context, speakerID string) (embeddings.Vector, error) {
	data, err := c.client.Get(ctx, EmbeddingKey(speakerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, err
	}

	var v embeddings.Vector
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// SetEmbedding stores a representative embedding with TTL
func (c *RedisCache) SetEmbedding(ctx context.Context, speakerID string, v embeddings.Vector, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, EmbeddingKey(speakerID), data, ttl).Err()
}

// InvalidateSpeaker removes the cached embedding of one speaker
func (c *RedisCache) InvalidateSpeaker(ctx context.Context, speakerID string) error {
	return c.client.Del(ctx, EmbeddingKey(speakerID)).Err()
}

// Flush removes every cached embedding. Keys are found with SCAN so large
// keyspaces do not block the server.
func (c *RedisCache) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, embeddingKeyPrefix+"*", 0).Iterator()

	pipe := c.client.Pipeline()
	count := 0

	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		count++
	}

	if err := iter.Err(); err != nil {
		return err
	}

	if count > 0 {
		_, err := pipe.Exec(ctx)
		return err
	}

	return nil
}

// Close closes the cache connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
