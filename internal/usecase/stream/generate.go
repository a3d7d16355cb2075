package stream

import (
	"context"
	"errors"
	"fmt"

	"chatstream/internal/domain"
)

// Drive runs one streaming generation against provider and reports it to sink.
// Thinking deltas delivered out of band by the provider are re-wrapped in
// OpenTag/CloseTag so the sink sees a single tagged token stream.
// The returned error is the one reported to sink.OnError, or nil on completion.
func Drive(ctx context.Context, provider domain.StreamingLLMProvider, req domain.ChatRequest, sink domain.TokenSink) error {
	sink.OnStart()

	deltas, err := provider.ChatStream(ctx, req)
	if err != nil {
		return fail(sink, err)
	}

	thinking := false
	for {
		select {
		case <-ctx.Done():
			go drainDeltas(deltas)
			return fail(sink, ctx.Err())
		case delta, ok := <-deltas:
			if !ok {
				if err := ctx.Err(); err != nil {
					return fail(sink, err)
				}
				if thinking {
					sink.OnToken(CloseTag)
				}
				sink.OnComplete()
				return nil
			}
			if delta.Err != nil {
				go drainDeltas(deltas)
				return fail(sink, delta.Err)
			}
			if delta.Thinking != "" {
				if !thinking {
					sink.OnToken(OpenTag)
					thinking = true
				}
				sink.OnToken(delta.Thinking)
			}
			if delta.Content != "" {
				if thinking {
					sink.OnToken(CloseTag)
					thinking = false
				}
				sink.OnToken(delta.Content)
			}
			if delta.Done {
				if thinking {
					sink.OnToken(CloseTag)
				}
				sink.OnComplete()
				go drainDeltas(deltas)
				return nil
			}
		}
	}
}

func fail(sink domain.TokenSink, err error) error {
	if !errors.Is(err, domain.ErrUpstreamGeneration) && !errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: %w", domain.ErrUpstreamGeneration, err)
	}
	sink.OnError(err)
	return err
}

// drainDeltas unblocks a producer that is still sending after the consumer stopped.
func drainDeltas(ch <-chan domain.StreamDelta) {
	for range ch {
	}
}
