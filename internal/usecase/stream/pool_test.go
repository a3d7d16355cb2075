package stream

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatstream/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPool_RunsJobs(t *testing.T) {
	p := NewPool(2, 4, discardLogger())
	var n atomic.Int32
	done := make(chan struct{}, 3)
	for range 3 {
		require.NoError(t, p.Submit(func(context.Context) {
			n.Add(1)
			done <- struct{}{}
		}))
	}
	for range 3 {
		<-done
	}
	assert.Equal(t, int32(3), n.Load())
	require.NoError(t, p.Stop(context.Background()))
}

func TestPool_FullBacklogRejects(t *testing.T) {
	p := NewPool(1, 1, discardLogger())
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, p.Submit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.Submit(func(context.Context) {}))

	err := p.Submit(func(context.Context) {})
	assert.ErrorIs(t, err, domain.ErrPoolFull)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Busy)
	assert.Equal(t, 1, stats.Queued)

	close(release)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(1, 1, discardLogger())
	require.NoError(t, p.Stop(context.Background()))
	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrPoolStopped)
}

func TestPool_StopTimeoutCancelsJobs(t *testing.T) {
	p := NewPool(1, 0, discardLogger())
	started := make(chan struct{})
	go func() {
		for p.Submit(func(ctx context.Context) {
			close(started)
			<-ctx.Done()
		}) != nil {
			time.Sleep(time.Millisecond)
		}
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
}

func TestPool_RecoversPanic(t *testing.T) {
	p := NewPool(1, 2, discardLogger())
	ran := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(func(context.Context) { close(ran) }))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
	require.NoError(t, p.Stop(context.Background()))
}
