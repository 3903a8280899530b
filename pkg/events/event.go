package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every event produced by this process.
const SchemaVersion = "1.0"

// Event defines the contract for all system events.
type Event interface {
	// EventID returns the globally unique id assigned at creation.
	EventID() string

	// EventType returns the unique code for this event (e.g., "ORDER_CREATED").
	EventType() string

	// EventSource returns the name of the producing service.
	EventSource() string

	// EventVersion returns the schema version string.
	EventVersion() string

	// Timestamp returns when the event occurred (producer-local clock,
	// not monotonic across sources).
	Timestamp() time.Time
}

// BaseEvent carries the fields shared by every event variant.
// Immutable once constructed.
type BaseEvent struct {
	ID         string    `json:"id" validate:"required"`
	Type       string    `json:"type" validate:"required"`
	OccurredAt time.Time `json:"timestamp"`
	Source     string    `json:"source" validate:"required"`
	Version    string    `json:"version" validate:"required"`
}

// NewBaseEvent builds a BaseEvent with a fresh id and the producer-local clock.
func NewBaseEvent(eventType, source string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now(),
		Source:     source,
		Version:    SchemaVersion,
	}
}

func (e BaseEvent) EventID() string      { return e.ID }
func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) EventSource() string  { return e.Source }
func (e BaseEvent) EventVersion() string { return e.Version }
func (e BaseEvent) Timestamp() time.Time { return e.OccurredAt }

// EventMetadata is optional correlation and delivery bookkeeping attached
// to an EnhancedEvent.
type EventMetadata struct {
	CorrelationID string     `json:"correlationId,omitempty"`
	CausationID   string     `json:"causationId,omitempty"`
	UserID        string     `json:"userId,omitempty"`
	SessionID     string     `json:"sessionId,omitempty"`
	Priority      int        `json:"priority,omitempty"`
	RetryCount    int        `json:"retryCount"`
	MaxRetries    int        `json:"maxRetries"`
	DelayUntil    *time.Time `json:"delayUntil,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
}

// EnhancedEvent is a BaseEvent with a free-form payload, optional metadata
// and a processing status.
type EnhancedEvent struct {
	BaseEvent
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Metadata *EventMetadata         `json:"metadata,omitempty"`
	Status   EventStatus            `json:"status"`
}

// NewEnhancedEvent builds an EnhancedEvent in the pending state.
func NewEnhancedEvent(eventType, source string, payload map[string]interface{}) EnhancedEvent {
	return EnhancedEvent{
		BaseEvent: NewBaseEvent(eventType, source),
		Payload:   payload,
		Status:    StatusPending,
	}
}

// UnmarshalJSON folds unknown top-level fields into Payload so a generic
// consumer still sees the domain keys of typed variants (orderId, userId, …)
// without knowing the concrete struct that produced the record.
func (e *EnhancedEvent) UnmarshalJSON(data []byte) error {
	type plain EnhancedEvent
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	var all map[string]interface{}
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, known := range []string{"id", "type", "timestamp", "source", "version", "payload", "metadata", "status"} {
		delete(all, known)
	}
	if len(all) > 0 {
		if decoded.Payload == nil {
			decoded.Payload = make(map[string]interface{}, len(all))
		}
		for k, v := range all {
			if _, exists := decoded.Payload[k]; !exists {
				decoded.Payload[k] = v
			}
		}
	}

	if decoded.Status == "" {
		decoded.Status = StatusPending
	}
	*e = EnhancedEvent(decoded)
	return nil
}

// EventStatus is the processing state machine:
// pending -> processing -> {completed | failed};
// failed -> retrying -> {completed | dead_letter}.
type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusProcessing EventStatus = "processing"
	StatusCompleted  EventStatus = "completed"
	StatusFailed     EventStatus = "failed"
	StatusRetrying   EventStatus = "retrying"
	StatusDeadLetter EventStatus = "dead_letter"
)

var statusTransitions = map[EventStatus][]EventStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusRetrying},
	StatusRetrying:   {StatusCompleted, StatusDeadLetter},
}

// CanTransitionTo reports whether moving to next is a legal transition.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the event lifecycle.
func (s EventStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// Transition moves the event to next, rejecting illegal transitions.
func (e *EnhancedEvent) Transition(next EventStatus) error {
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal status transition %s -> %s", e.Status, next)
	}
	e.Status = next
	return nil
}

// EventProcessingResult records the outcome of a single processing attempt.
type EventProcessingResult struct {
	EventID          string      `json:"eventId"`
	Status           EventStatus `json:"status"`
	ProcessedAt      time.Time   `json:"processedAt"`
	ProcessingTimeMs int64       `json:"processingTimeMs"`
	Error            string      `json:"error,omitempty"`
	RetryCount       int         `json:"retryCount"`
	NextRetryAt      *time.Time  `json:"nextRetryAt,omitempty"`
}

// NewProcessingResult builds the result for an attempt that started at
// startedAt; err may be nil.
func NewProcessingResult(eventID string, startedAt time.Time, retryCount int, err error) EventProcessingResult {
	now := time.Now()
	result := EventProcessingResult{
		EventID:          eventID,
		Status:           StatusCompleted,
		ProcessedAt:      now,
		ProcessingTimeMs: now.Sub(startedAt).Milliseconds(),
		RetryCount:       retryCount,
	}
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
	}
	return result
}
