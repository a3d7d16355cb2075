package domain

import (
	"context"
	"time"
)

// Outcome records how a stream ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Transcript is the persisted record of one streamed answer.
type Transcript struct {
	MessageID string        `json:"message_id"`
	Prompt    string        `json:"prompt"`
	Answer    string        `json:"answer"`
	Thinking  string        `json:"thinking,omitempty"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// TranscriptStore persists transcripts.
type TranscriptStore interface {
	Save(ctx context.Context, t Transcript) error
	Get(ctx context.Context, messageID string) (*Transcript, error)
	Recent(ctx context.Context, limit int) ([]Transcript, error)
	// Prune deletes transcripts that started before cutoff and returns how many.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
