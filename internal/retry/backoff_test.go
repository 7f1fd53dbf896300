package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, 100 * time.Millisecond}, // negative attempts clamp to 0
		{0, 100 * time.Millisecond},  // base * 2^0 = 100ms
		{1, 200 * time.Millisecond},  // base * 2^1 = 200ms
		{2, 400 * time.Millisecond},  // base * 2^2 = 400ms
		{3, 800 * time.Millisecond},  // base * 2^3 = 800ms
		{4, 1600 * time.Millisecond}, // base * 2^4 = 1600ms
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ExponentialBackoff(tt.attempt, base), "attempt %d", tt.attempt)
	}
}

func TestCappedBackoff(t *testing.T) {
	base, max := time.Second, 5*time.Second

	assert.Equal(t, time.Second, CappedBackoff(0, base, max))
	assert.Equal(t, 4*time.Second, CappedBackoff(2, base, max))
	assert.Equal(t, max, CappedBackoff(3, base, max))
	assert.Equal(t, max, CappedBackoff(62, base, max))
}
