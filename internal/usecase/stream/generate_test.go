package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"chatstream/internal/domain"
)

type sinkCall struct {
	kind  string
	token string
}

type fakeSink struct {
	calls []sinkCall
}

func (s *fakeSink) OnStart()             { s.calls = append(s.calls, sinkCall{kind: "start"}) }
func (s *fakeSink) OnToken(token string) { s.calls = append(s.calls, sinkCall{kind: "token", token: token}) }
func (s *fakeSink) OnComplete()          { s.calls = append(s.calls, sinkCall{kind: "complete"}) }
func (s *fakeSink) OnError(err error) {
	s.calls = append(s.calls, sinkCall{kind: "error", token: err.Error()})
}

func TestDrive_ClosedChannelCompletes(t *testing.T) {
	sink := &fakeSink{}
	p := &stubProvider{deltas: []domain.StreamDelta{{Content: "a"}, {Content: "b"}}}

	err := Drive(context.Background(), p, domain.PromptRequest("m", "q"), sink)
	assert.NoError(t, err)
	assert.Equal(t, []sinkCall{
		{kind: "start"}, {kind: "token", token: "a"}, {kind: "token", token: "b"}, {kind: "complete"},
	}, sink.calls)
}

func TestDrive_ThinkingClosedAtDone(t *testing.T) {
	sink := &fakeSink{}
	p := &stubProvider{deltas: []domain.StreamDelta{{Thinking: "x"}, {Done: true}}}

	assert.NoError(t, Drive(context.Background(), p, domain.PromptRequest("m", "q"), sink))
	assert.Equal(t, []sinkCall{
		{kind: "start"}, {kind: "token", token: OpenTag}, {kind: "token", token: "x"},
		{kind: "token", token: CloseTag}, {kind: "complete"},
	}, sink.calls)
}

func TestDrive_ErrorWrapsUpstream(t *testing.T) {
	sink := &fakeSink{}
	p := &stubProvider{err: errors.New("refused")}

	err := Drive(context.Background(), p, domain.PromptRequest("m", "q"), sink)
	assert.ErrorIs(t, err, domain.ErrUpstreamGeneration)
	assert.Equal(t, "error", sink.calls[len(sink.calls)-1].kind)
}

func TestDrive_CancelledContext(t *testing.T) {
	sink := &fakeSink{}
	p := &stubProvider{block: make(chan struct{})}
	defer close(p.block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Drive(ctx, p, domain.PromptRequest("m", "q"), sink)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrUpstreamGeneration)
}
