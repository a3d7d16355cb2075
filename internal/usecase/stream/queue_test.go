package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatstream/internal/domain"
)

func TestQueue_FIFOThenClosed(t *testing.T) {
	q := NewQueue()
	q.Push(domain.NewStartEvent("m"))
	q.Push(domain.NewContentEvent("m", "a"))
	q.Close()

	ctx := context.Background()
	ev, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.StreamStart, ev.Type)

	ev, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Chunk)

	_, err = q.Pop(ctx, time.Second)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_PushAfterCloseDropped(t *testing.T) {
	q := NewQueue()
	q.Close()
	q.Close()
	assert.False(t, q.Push(domain.NewContentEvent("m", "late")))
	assert.Equal(t, 0, q.Len())
	assert.True(t, q.Closed())
}

func TestQueue_TimeoutIsNotClosure(t *testing.T) {
	q := NewQueue()
	_, err := q.Pop(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrChannelTimeout)

	q.Push(domain.NewContentEvent("m", "x"))
	ev, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "x", ev.Chunk)
}

func TestQueue_ContextCancel(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx, 0)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestQueue_WakesBlockedConsumer(t *testing.T) {
	q := NewQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(domain.NewContentEvent("m", "late"))
	}()
	ev, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", ev.Chunk)
}

func TestQueue_ConcurrentProducersPreserveCount(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				q.Push(domain.NewContentEvent("m", string(rune('a'+i))))
			}
		}()
	}
	wg.Wait()
	q.Close()

	n := 0
	for {
		_, err := q.Pop(context.Background(), time.Second)
		if errors.Is(err, ErrQueueClosed) {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 200, n)
}
