package cache

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"voice-id/internal/embeddings"
)

// MockCache is a mock implementation of the Cache interface for testing
type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetEmbedding(ctx context.Context, speakerID string) (embeddings.Vector, error) {
	args := m.Called(ctx, speakerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(embeddings.Vector), args.Error(1)
}

func (m *MockCache) SetEmbedding(ctx context.Context, speakerID string, v embeddings.Vector, ttl time.Duration) error {
	args := m.Called(ctx, speakerID, v, ttl)
	return args.Error(0)
}

func (m *MockCache) InvalidateSpeaker(ctx context.Context, speakerID string) error {
	args := m.Called(ctx, speakerID)
	return args.Error(0)
}

func (m *MockCache) Flush(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCache) Close() error {
	args := m.Called()
	return args.Error(0)
}
