package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventStreamStarted   EventType = "stream.started"
	EventStreamCompleted EventType = "stream.completed"
	EventStreamError     EventType = "stream.error"
	EventStreamCancelled EventType = "stream.cancelled"
	EventStreamRejected  EventType = "stream.rejected"
	EventSessionReaped   EventType = "session.reaped"
	EventHistoryPruned   EventType = "history.pruned"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// StreamStartedPayload is the payload for EventStreamStarted events.
type StreamStartedPayload struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// StreamCompletedPayload is the payload for EventStreamCompleted events.
type StreamCompletedPayload struct {
	ContentLength int           `json:"content_length"`
	Duration      time.Duration `json:"duration"`
}

// StreamErrorPayload is the payload for EventStreamError events.
type StreamErrorPayload struct {
	Error string `json:"error"`
}

// StreamRejectedPayload is the payload for EventStreamRejected events.
type StreamRejectedPayload struct {
	Reason ErrorCode `json:"reason"`
}

// CountPayload carries a count for maintenance events.
type CountPayload struct {
	Count int `json:"count"`
}

// NewEvent builds an Event with payload marshalled to JSON.
func NewEvent(typ EventType, sessionID string, payload any) Event {
	ev := Event{Type: typ, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// DecodePayload unmarshals the event payload into v.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(e.Payload, v)
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
