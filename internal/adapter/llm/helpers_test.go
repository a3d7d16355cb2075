package llm

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"chatstream/internal/domain"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusRequestEntityTooLarge, domain.ErrContextOverflow},
		{http.StatusInternalServerError, domain.ErrProviderError},
		{http.StatusServiceUnavailable, domain.ErrProviderError},
	}
	for _, tt := range tests {
		err := mapHTTPError(tt.status, []byte("body text\n"))
		if !errors.Is(err, tt.want) {
			t.Errorf("mapHTTPError(%d) = %v, want %v", tt.status, err, tt.want)
		}
		if !strings.Contains(err.Error(), "body text") {
			t.Errorf("mapHTTPError(%d) lost the body: %v", tt.status, err)
		}
	}
}

func TestMapHTTPErrorUnknownStatus(t *testing.T) {
	err := mapHTTPError(http.StatusTeapot, []byte("short and stout"))
	if errors.Is(err, domain.ErrProviderError) || errors.Is(err, domain.ErrRateLimit) {
		t.Errorf("418 should not map to a sentinel: %v", err)
	}
	if !strings.Contains(err.Error(), "API error 418") {
		t.Errorf("err = %v", err)
	}
}

func TestIsRetryableAfterMapping(t *testing.T) {
	if !domain.IsRetryableError(mapHTTPError(http.StatusTooManyRequests, nil)) {
		t.Error("429 should be retryable")
	}
	if domain.IsRetryableError(mapHTTPError(http.StatusUnauthorized, nil)) {
		t.Error("401 should not be retryable")
	}
}
