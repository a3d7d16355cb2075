package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Registry.Register", ErrDuplicateRequest, "msg-1")
	want := "Registry.Register: msg-1: message already processed: duplicate"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Pool.Submit", ErrPoolFull, "")
	want := "Pool.Submit: generation queue full: limit reached"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Handler.Chat", ErrMissingParameter, "prompt")
	if !errors.Is(err, ErrMissingParameter) {
		t.Error("errors.Is should match ErrMissingParameter")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is should match the ErrInvalidInput category")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDomainError("LLM.ChatStream", ErrProviderNotFound, "groq"))
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "LLM.ChatStream" {
		t.Errorf("Op = %q, want %q", de.Op, "LLM.ChatStream")
	}
}

func TestWrapOpNil(t *testing.T) {
	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should return nil")
	}
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeMissingParameter, ErrorCodeOf(ErrMissingParameter))
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(ErrSessionNotFound))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestErrorCodeOf_WrappedPrefersSpecific(t *testing.T) {
	err := fmt.Errorf("generate: %w", ErrUpstreamGeneration)
	assert.Equal(t, CodeUpstreamGeneration, ErrorCodeOf(err))

	err = WrapOp("Registry.Register", ErrDuplicateRequest)
	assert.Equal(t, CodeDuplicateRequest, ErrorCodeOf(err))
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	err := NewSubSystemError("model", "Ollama.Warmup", ErrNotFound, "qwen3:32b")
	assert.Equal(t, CodeModelNotFound, ErrorCodeOf(err))
	assert.Equal(t, CodeModelNotFound, err.Code())

	other := NewSubSystemError("unknown", "x", ErrNotFound, "")
	assert.Equal(t, CodeNotFound, other.Code())
}

func TestErrorCodeOf_Unknown(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(errors.New("boom")))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(WrapOp("x", ErrRateLimit)))
	assert.True(t, IsRetryableError(ErrPoolFull))
	assert.False(t, IsRetryableError(ErrUpstreamGeneration))
}
