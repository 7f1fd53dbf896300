package catalog

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockCatalog is a mock implementation of Catalog using testify/mock.
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Sync(ctx context.Context, entries []Entry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockCatalog) List(ctx context.Context) ([]Entry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Entry), args.Error(1)
}
