// Package chat implements the Bubble Tea terminal client for a chatstream server.
package chat

import "chatstream/internal/domain"

// streamOpenedMsg carries the event channel of a freshly opened stream.
type streamOpenedMsg struct {
	Gen       uint64
	MessageID string
	Events    <-chan domain.StreamEvent
}

// StreamEventMsg delivers one server event. Gen identifies the request
// generation so events from a cancelled stream can be discarded.
type StreamEventMsg struct {
	Event domain.StreamEvent
	Gen   uint64
}

// StreamClosedMsg reports that a stream ended. Err is set when the stream
// could not be opened.
type StreamClosedMsg struct {
	Err error
	Gen uint64
}

// StreamTickMsg drives the typewriter reveal of received content.
type StreamTickMsg struct {
	Gen uint64
}

// CollapseThinkingMsg folds the reasoning block of an assistant message.
type CollapseThinkingMsg struct {
	MessageID string
}

// CancelResultMsg reports the server's answer to a cancel request.
type CancelResultMsg struct {
	MessageID string
	Cancelled bool
	Err       error
}

// QuitMsg signals the program to exit.
type QuitMsg struct{}
