package domain

import (
	"encoding/json"
	"testing"
)

func TestStreamEventWireShape(t *testing.T) {
	tests := []struct {
		name string
		ev   StreamEvent
		want string
	}{
		{"start", NewStartEvent("m1"), `{"type":"stream_start","message_id":"m1","role":"assistant"}`},
		{"content", NewContentEvent("m1", "abc"), `{"type":"content","message_id":"m1","chunk":"abc"}`},
		{"thinking start", NewThinkingEvent("m1", true), `{"type":"thinking_start","message_id":"m1"}`},
		{"thinking end", NewThinkingEvent("m1", false), `{"type":"thinking_end","message_id":"m1"}`},
		{"complete empty", NewCompleteEvent("m1", ""), `{"type":"stream_complete","message_id":"m1","full_content":""}`},
		{"error", NewErrorEvent("m1", "boom"), `{"type":"error","message_id":"m1","error":"boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}

func TestStreamEventDecode(t *testing.T) {
	var ev StreamEvent
	if err := json.Unmarshal([]byte(`{"type":"content","message_id":"x","chunk":"<b>"}`), &ev); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if ev.Type != StreamContent || ev.Chunk != "<b>" || ev.MessageID != "x" {
		t.Errorf("decoded %+v", ev)
	}
}

func TestStreamEventTerminal(t *testing.T) {
	if !NewCompleteEvent("a", "").Terminal() || !NewErrorEvent("a", "e").Terminal() {
		t.Error("complete and error should be terminal")
	}
	if NewContentEvent("a", "x").Terminal() {
		t.Error("content should not be terminal")
	}
}

func TestNewEventPayload(t *testing.T) {
	ev := NewEvent(EventStreamError, "m1", StreamErrorPayload{Error: "boom"})
	if ev.SessionID != "m1" || ev.Type != EventStreamError {
		t.Fatalf("unexpected envelope %+v", ev)
	}
	var p StreamErrorPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatalf("Unmarshal payload: %v", err)
	}
	if p.Error != "boom" {
		t.Errorf("payload error = %q", p.Error)
	}
}
