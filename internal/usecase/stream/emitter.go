package stream

import (
	"sync/atomic"

	"chatstream/internal/domain"
)

// Emitter is the generation-side TokenSink for one session. It feeds tokens
// through a Splitter and pushes the resulting events onto the session queue.
type Emitter struct {
	messageID string
	queue     *Queue
	splitter  *Splitter

	closeOpenThinking bool
	progress          *atomic.Int64
	finished          bool
}

var _ domain.TokenSink = (*Emitter)(nil)

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithCloseOpenThinking makes completion emit a thinking_end when the
// generation stopped inside a thinking section.
func WithCloseOpenThinking(enabled bool) EmitterOption {
	return func(e *Emitter) { e.closeOpenThinking = enabled }
}

// WithProgress stores the accumulated content length in counter after each token.
func WithProgress(counter *atomic.Int64) EmitterOption {
	return func(e *Emitter) { e.progress = counter }
}

// NewEmitter returns an Emitter writing to queue.
func NewEmitter(messageID string, queue *Queue, threshold int, opts ...EmitterOption) *Emitter {
	e := &Emitter{messageID: messageID, queue: queue}
	e.splitter = NewSplitter(messageID, threshold, func(ev domain.StreamEvent) { queue.Push(ev) })
	for _, o := range opts {
		o(e)
	}
	return e
}

// OnStart pushes stream_start.
func (e *Emitter) OnStart() {
	if e.finished {
		return
	}
	e.queue.Push(domain.NewStartEvent(e.messageID))
}

// OnToken feeds one upstream fragment.
func (e *Emitter) OnToken(token string) {
	if e.finished {
		return
	}
	e.splitter.Feed(token)
	if e.progress != nil {
		e.progress.Store(int64(len(e.splitter.FullContent())))
	}
}

// OnComplete flushes the buffer, pushes stream_complete and closes the queue.
func (e *Emitter) OnComplete() {
	if e.finished {
		return
	}
	e.finished = true
	e.splitter.Flush()
	if e.closeOpenThinking && e.splitter.InThinking() {
		e.queue.Push(domain.NewThinkingEvent(e.messageID, false))
	}
	e.queue.Push(domain.NewCompleteEvent(e.messageID, e.splitter.FullContent()))
	e.queue.Close()
}

// OnError pushes an error event and closes the queue. Buffered text is discarded.
func (e *Emitter) OnError(err error) {
	if e.finished {
		return
	}
	e.finished = true
	e.queue.Push(domain.NewErrorEvent(e.messageID, err.Error()))
	e.queue.Close()
}

// Splitter exposes the underlying splitter for post-generation inspection.
func (e *Emitter) Splitter() *Splitter { return e.splitter }
