package events

import (
	"time"

	"github.com/google/uuid"
)

// EventBatch groups events published or processed together.
type EventBatch struct {
	ID        string          `json:"id"`
	Events    []EnhancedEvent `json:"events"`
	CreatedAt time.Time       `json:"createdAt"`
}

func NewEventBatch(evs []EnhancedEvent) EventBatch {
	return EventBatch{
		ID:        uuid.NewString(),
		Events:    evs,
		CreatedAt: time.Now(),
	}
}

func (b EventBatch) Size() int { return len(b.Events) }

// EventStream describes a named durable log a consumer can attach to.
type EventStream struct {
	Name      string    `json:"name"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"createdAt"`
}

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy bounds redelivery of a failed event before dead-lettering.
type RetryPolicy struct {
	MaxRetries   int             `json:"maxRetries"`
	Backoff      BackoffStrategy `json:"backoff"`
	InitialDelay time.Duration   `json:"initialDelay"`
	MaxDelay     time.Duration   `json:"maxDelay"`
}

// DefaultRetryPolicy mirrors the broker retry defaults.
func DefaultRetryPolicy(maxRetries int, initialDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   maxRetries,
		Backoff:      BackoffExponential,
		InitialDelay: initialDelay,
		MaxDelay:     30 * time.Second,
	}
}

// Delay returns the wait before the given attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.InitialDelay
	if p.Backoff == BackoffExponential {
		for i := 1; i < attempt; i++ {
			delay *= 2
			if p.MaxDelay > 0 && delay >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// EventSubscription is the bookkeeping record for a consumer-group
// subscription created through the bus.
type EventSubscription struct {
	ID        string      `json:"id"`
	Topics    []string    `json:"topics"`
	GroupID   string      `json:"groupId"`
	Retry     RetryPolicy `json:"retry"`
	CreatedAt time.Time   `json:"createdAt"`
}

func NewEventSubscription(topics []string, groupID string, retry RetryPolicy) EventSubscription {
	return EventSubscription{
		ID:        uuid.NewString(),
		Topics:    topics,
		GroupID:   groupID,
		Retry:     retry,
		CreatedAt: time.Now(),
	}
}

// EventReplayConfig describes one timestamp-windowed replay pass and tracks
// its progress. Counters are owned by the replay loop that created the
// config; From/To are inclusive bounds on the event timestamp.
type EventReplayConfig struct {
	SourceTopic string    `json:"sourceTopic"`
	Types       []string  `json:"types,omitempty"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Speed       float64   `json:"speed,omitempty"`

	Matched int `json:"matched"`
	Skipped int `json:"skipped"`
}

// WantsType reports whether the replay filter admits the given event type.
// An empty filter admits everything.
func (c *EventReplayConfig) WantsType(eventType string) bool {
	if len(c.Types) == 0 {
		return true
	}
	for _, t := range c.Types {
		if t == eventType {
			return true
		}
	}
	return false
}

// InWindow reports whether ts falls within [From, To] inclusive.
func (c *EventReplayConfig) InWindow(ts time.Time) bool {
	return !ts.Before(c.From) && !ts.After(c.To)
}
