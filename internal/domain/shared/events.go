// Package shared contains common domain types, errors, and events.
package shared

import (
	"context"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Screens subscribe to these to refresh progress
// displays without polling; nothing in the pipeline depends on a
// subscriber being present.
const (
	// Completion submission events
	EventCompletionAccepted   EventType = "completion.accepted"
	EventCompletionSuppressed EventType = "completion.suppressed"
	EventCompletionFailed     EventType = "completion.failed"

	// Projection events
	EventProgressProjected EventType = "progress.projected"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// Payload implements Event interface with the base fields only.
func (e BaseEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"type":           string(e.Type),
		"timestamp":      e.Timestamp,
		"aggregate_id":   e.AggregateId,
		"correlation_id": e.CorrelationID,
	}
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
	}
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher publishes domain events.
// Implemented by the messaging infrastructure.
type EventPublisher interface {
	Publish(event Event) error
}

// NopPublisher discards all events. Useful for tests and for consumers
// that do not care about refresh hints.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
