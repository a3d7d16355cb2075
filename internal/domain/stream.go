package domain

import (
	"encoding/json"
	"time"
)

// StreamEventType identifies an event written to a chat stream.
type StreamEventType string

const (
	StreamStart    StreamEventType = "stream_start"
	StreamContent  StreamEventType = "content"
	ThinkingStart  StreamEventType = "thinking_start"
	ThinkingEnd    StreamEventType = "thinking_end"
	StreamComplete StreamEventType = "stream_complete"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one record of a chat stream. Only the fields relevant to
// Type are serialized.
type StreamEvent struct {
	Type        StreamEventType `json:"type"`
	MessageID   string          `json:"message_id"`
	Role        string          `json:"role,omitempty"`
	Chunk       string          `json:"chunk,omitempty"`
	FullContent string          `json:"full_content,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NewStartEvent returns the stream_start event for id.
func NewStartEvent(id string) StreamEvent {
	return StreamEvent{Type: StreamStart, MessageID: id, Role: RoleAssistant}
}

// NewContentEvent returns a content event carrying chunk.
func NewContentEvent(id, chunk string) StreamEvent {
	return StreamEvent{Type: StreamContent, MessageID: id, Chunk: chunk}
}

// NewThinkingEvent returns thinking_start when open is true, thinking_end otherwise.
func NewThinkingEvent(id string, open bool) StreamEvent {
	if open {
		return StreamEvent{Type: ThinkingStart, MessageID: id}
	}
	return StreamEvent{Type: ThinkingEnd, MessageID: id}
}

// NewCompleteEvent returns the stream_complete event.
func NewCompleteEvent(id, full string) StreamEvent {
	return StreamEvent{Type: StreamComplete, MessageID: id, FullContent: full}
}

// NewErrorEvent returns an error event with msg.
func NewErrorEvent(id, msg string) StreamEvent {
	return StreamEvent{Type: StreamError, MessageID: id, Error: msg}
}

// MarshalJSON writes the wire shape for the event's type. Text fields are
// always present for the types that carry them, even when empty.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case StreamStart:
		return json.Marshal(struct {
			Type      StreamEventType `json:"type"`
			MessageID string          `json:"message_id"`
			Role      string          `json:"role"`
		}{e.Type, e.MessageID, e.Role})
	case StreamContent:
		return json.Marshal(struct {
			Type      StreamEventType `json:"type"`
			MessageID string          `json:"message_id"`
			Chunk     string          `json:"chunk"`
		}{e.Type, e.MessageID, e.Chunk})
	case StreamComplete:
		return json.Marshal(struct {
			Type        StreamEventType `json:"type"`
			MessageID   string          `json:"message_id"`
			FullContent string          `json:"full_content"`
		}{e.Type, e.MessageID, e.FullContent})
	case StreamError:
		return json.Marshal(struct {
			Type      StreamEventType `json:"type"`
			MessageID string          `json:"message_id"`
			Error     string          `json:"error"`
		}{e.Type, e.MessageID, e.Error})
	default:
		return json.Marshal(struct {
			Type      StreamEventType `json:"type"`
			MessageID string          `json:"message_id"`
		}{e.Type, e.MessageID})
	}
}

// Terminal reports whether no further events follow e on a well-formed stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == StreamComplete || e.Type == StreamError
}

// TokenSink receives the lifecycle of one generation. Implementations must
// tolerate OnError after OnToken and must ignore calls after a terminal one.
type TokenSink interface {
	OnStart()
	OnToken(token string)
	OnComplete()
	OnError(err error)
}

// SessionStatus is the externally visible state of a stream session.
type SessionStatus struct {
	Active        bool      `json:"active"`
	MessageID     string    `json:"message_id,omitempty"`
	Prompt        string    `json:"prompt,omitempty"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	Duration      float64   `json:"duration,omitempty"`
	ContentLength int       `json:"content_length,omitempty"`
}
