// Package events publishes notifications about changes to enrolled speakers.
// Consumers live outside this repository.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"voice-id/internal/retry"
)

// Type enumerates the published change notifications.
type Type string

const (
	TypeEnrolled      Type = "speaker.enrolled"
	TypeSampleRemoved Type = "speaker.sample_removed"
	TypeCleared       Type = "speaker.cleared"
	TypeReloaded      Type = "speaker.reloaded"
)

// Event is one change to a speaker.
type Event struct {
	ID          uuid.UUID `json:"id"`
	Type        Type      `json:"type"`
	SpeakerID   string    `json:"speaker_id"`
	SampleCount int       `json:"sample_count"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

const maxBackoff = 5 * time.Second

// Subject is the subject an event type is published on.
func Subject(t Type) string {
	return "voiceid." + string(t)
}

// PublishWithRetry attempts to publish with retries and exponential backoff.
// The event id and timestamp are fixed before the first attempt so
// subscribers can drop duplicates.
func PublishWithRetry(ctx context.Context, p Publisher, ev Event, attempts int, base time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := p.Publish(ctx, ev); err == nil {
			return nil
		} else if attempt == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.CappedBackoff(attempt, base, maxBackoff)):
		}
	}
	return nil
}
