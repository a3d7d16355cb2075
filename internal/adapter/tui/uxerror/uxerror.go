// Package uxerror translates raw errors into user-friendly messages with
// recovery hints for the terminal chat.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"chatstream/internal/adapter/tui/theme"
	"chatstream/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Connection Failed"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text
}

// Render formats the FriendlyError for display in the message list.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			fmt.Fprintf(&sb, "\n    %s %s", theme.SymbolBullet, h)
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	// Domain sentinels first so errors.Is works through wrapping.
	{
		match: is(domain.ErrDuplicateRequest),
		produce: constantError("Message Already Processed",
			"The server has already handled a message with this id.",
			[]string{"Send the prompt again; a new id is generated for each message"}),
	},
	{
		match: is(domain.ErrPoolFull),
		produce: constantError("Server Busy",
			"All generation slots are in use and the wait queue is full.",
			[]string{"Wait a moment before retrying", "Raise stream.workers or stream.queue_depth on the server"}),
	},
	{
		match: is(domain.ErrMissingParameter),
		produce: constantError("Invalid Request",
			"The prompt or message id was empty.",
			[]string{"Type a non-empty message"}),
	},
	{
		match: is(domain.ErrAuthInvalid),
		produce: constantError("Authentication Failed",
			"The server rejected the client token.",
			[]string{"Set client.token in the config", "Check CHATSTREAM_CLIENT_TOKEN"}),
	},
	{
		match: is(domain.ErrUpstreamGeneration),
		produce: constantError("Generation Failed",
			"The model backend reported an error while generating.",
			[]string{"Check that the model is pulled on the backend", "Look at the server logs"}),
	},

	// Network / connectivity patterns (string matching for transport errors).
	{
		match: containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the chatstream server.",
			[]string{"Start it with 'chatstream serve'", "Check client.url or pass --url"}),
	},
	{
		match: containsAny("deadline exceeded", "timeout", "context deadline"),
		produce: constantError("Request Timed Out", "The request took too long to complete.",
			[]string{"Check your network connection", "Try a shorter prompt"}),
	},
	{
		match: containsAny("429", "rate limit", "too many requests"),
		produce: constantError("Rate Limited", "Too many requests were sent to the server.",
			[]string{"Wait a moment before retrying"}),
	},
	{
		match: containsAny("circuit breaker", "circuit open"),
		produce: constantError("Backend Unavailable", "The server stopped calling a failing model backend.",
			[]string{"Wait for the breaker timeout to pass", "Check the backend is running"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}

	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}

	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with logger.level=debug for more details"},
		Raw:     err.Error(),
	}
}

// HumanizeMessage handles errors that arrive as text inside a stream's error
// event rather than as Go errors.
func HumanizeMessage(msg string) FriendlyError {
	fe := Humanize(errors.New(msg))
	if fe.Title == "Unexpected Error" {
		return FriendlyError{Title: "Stream Error", Message: msg, Raw: msg}
	}
	return fe
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
