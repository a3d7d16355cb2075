package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatstream/internal/domain"
)

type stubProvider struct {
	deltas []domain.StreamDelta
	err    error
	block  chan struct{}
	calls  atomic.Int32
	last   atomic.Pointer[domain.ChatRequest]
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *stubProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	p.calls.Add(1)
	p.last.Store(&req)
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan domain.StreamDelta)
	go func() {
		defer close(ch)
		for _, d := range p.deltas {
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
		if p.block != nil {
			select {
			case <-p.block:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

type memHistory struct {
	mu    sync.Mutex
	saved []domain.Transcript
}

func (h *memHistory) Save(_ context.Context, t domain.Transcript) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved = append(h.saved, t)
	return nil
}

func (h *memHistory) Get(context.Context, string) (*domain.Transcript, error) { return nil, nil }
func (h *memHistory) Recent(context.Context, int) ([]domain.Transcript, error) {
	return nil, nil
}
func (h *memHistory) Prune(context.Context, time.Time) (int, error) { return 0, nil }
func (h *memHistory) Close() error                                  { return nil }

func (h *memHistory) last() (domain.Transcript, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.saved) == 0 {
		return domain.Transcript{}, false
	}
	return h.saved[len(h.saved)-1], true
}

func newTestService(t *testing.T, p domain.StreamingLLMProvider, opts Options) (*Service, *memHistory) {
	t.Helper()
	pool := NewPool(2, 2, discardLogger())
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })
	hist := &memHistory{}
	svc := NewService(Deps{
		Provider: p,
		Registry: NewRegistry(100, time.Minute, discardLogger()),
		Pool:     pool,
		History:  hist,
		Logger:   discardLogger(),
	}, opts)
	return svc, hist
}

func collect(t *testing.T, sess *Session) []domain.StreamEvent {
	t.Helper()
	var out []domain.StreamEvent
	for {
		ev, err := sess.Events().Pop(context.Background(), 2*time.Second)
		if errors.Is(err, ErrQueueClosed) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func types(evs []domain.StreamEvent) []domain.StreamEventType {
	out := make([]domain.StreamEventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestService_CompleteStream(t *testing.T) {
	p := &stubProvider{deltas: []domain.StreamDelta{
		{Content: "abc<think>def"},
		{Content: "</think>ghi"},
		{Done: true},
	}}
	svc, hist := newTestService(t, p, Options{Model: "qwen3:32b", Temperature: 0.7, TopP: 0.9, TopK: 40, MaxTokens: 2048})

	sess, err := svc.Start(context.Background(), "m1", "question")
	require.NoError(t, err)

	evs := collect(t, sess)
	assert.Equal(t, []domain.StreamEventType{
		domain.StreamStart, domain.StreamContent, domain.ThinkingStart,
		domain.StreamContent, domain.ThinkingEnd, domain.StreamContent, domain.StreamComplete,
	}, types(evs))
	assert.Equal(t, "abcdefghi", evs[len(evs)-1].FullContent)

	<-sess.Done()
	svc.Release("m1")
	assert.False(t, svc.Status("m1").Active)

	req := p.last.Load()
	require.NotNil(t, req)
	assert.Equal(t, "qwen3:32b", req.Model)
	assert.Equal(t, 40, req.TopK)
	assert.Equal(t, "question", req.Messages[0].Content)

	tr, ok := hist.last()
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeCompleted, tr.Outcome)
	assert.Equal(t, "abcghi", tr.Answer)
	assert.Equal(t, "def", tr.Thinking)
}

func TestService_DuplicateStartsOneGeneration(t *testing.T) {
	p := &stubProvider{deltas: []domain.StreamDelta{{Content: "hello"}}, block: make(chan struct{})}
	svc, _ := newTestService(t, p, Options{})

	sess, err := svc.Start(context.Background(), "dup", "q")
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), "dup", "q")
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

	close(p.block)
	collect(t, sess)
	<-sess.Done()
	svc.Release("dup")

	_, err = svc.Start(context.Background(), "dup", "q")
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestService_MissingParameters(t *testing.T) {
	p := &stubProvider{}
	svc, _ := newTestService(t, p, Options{})

	_, err := svc.Start(context.Background(), "", "q")
	assert.ErrorIs(t, err, domain.ErrMissingParameter)
	_, err = svc.Start(context.Background(), "id", "")
	assert.ErrorIs(t, err, domain.ErrMissingParameter)

	assert.Empty(t, svc.Sessions())
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestService_UpstreamErrorMidStream(t *testing.T) {
	p := &stubProvider{deltas: []domain.StreamDelta{
		{Content: "partial"},
		{Err: errors.New("connection reset")},
	}}
	svc, hist := newTestService(t, p, Options{})

	sess, err := svc.Start(context.Background(), "e1", "q")
	require.NoError(t, err)

	evs := collect(t, sess)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, domain.StreamError, last.Type)
	assert.Contains(t, last.Error, "connection reset")
	for _, ev := range evs {
		assert.NotEqual(t, domain.StreamComplete, ev.Type)
	}

	<-sess.Done()
	svc.Release("e1")
	assert.False(t, svc.Status("e1").Active)

	tr, ok := hist.last()
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeFailed, tr.Outcome)
}

func TestService_StreamInitiationError(t *testing.T) {
	p := &stubProvider{err: errors.New("dial tcp: refused")}
	svc, _ := newTestService(t, p, Options{})

	sess, err := svc.Start(context.Background(), "e2", "q")
	require.NoError(t, err)

	evs := collect(t, sess)
	assert.Equal(t, []domain.StreamEventType{domain.StreamStart, domain.StreamError}, types(evs))
	assert.Contains(t, evs[1].Error, "refused")
}

func TestService_Cancel(t *testing.T) {
	p := &stubProvider{deltas: []domain.StreamDelta{{Content: "thinking hard"}}, block: make(chan struct{})}
	svc, hist := newTestService(t, p, Options{})

	sess, err := svc.Start(context.Background(), "c1", "q")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return svc.Status("c1").ContentLength > 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, svc.Cancel(context.Background(), "c1"))
	assert.False(t, svc.Cancel(context.Background(), "c1"))
	assert.False(t, svc.Status("c1").Active)

	collect(t, sess)
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("generation did not stop after cancel")
	}

	tr, ok := hist.last()
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeCancelled, tr.Outcome)
}

func TestService_NativeThinkingDeltas(t *testing.T) {
	p := &stubProvider{deltas: []domain.StreamDelta{
		{Thinking: "hmm"},
		{Thinking: " ok"},
		{Content: "Answer"},
		{Done: true},
	}}
	svc, _ := newTestService(t, p, Options{})

	sess, err := svc.Start(context.Background(), "n1", "q")
	require.NoError(t, err)

	evs := collect(t, sess)
	assert.Equal(t, []domain.StreamEventType{
		domain.StreamStart, domain.ThinkingStart, domain.StreamContent, domain.StreamContent,
		domain.ThinkingEnd, domain.StreamContent, domain.StreamComplete,
	}, types(evs))
	assert.Equal(t, "hmm okAnswer", evs[len(evs)-1].FullContent)
}

func TestService_UnterminatedThinking(t *testing.T) {
	deltas := []domain.StreamDelta{{Content: "<think>never closed"}, {Done: true}}

	t.Run("closed", func(t *testing.T) {
		svc, _ := newTestService(t, &stubProvider{deltas: deltas}, Options{CloseOpenThinking: true})
		sess, err := svc.Start(context.Background(), "u1", "q")
		require.NoError(t, err)
		evs := types(collect(t, sess))
		assert.Equal(t, domain.ThinkingEnd, evs[len(evs)-2])
	})

	t.Run("left open", func(t *testing.T) {
		svc, _ := newTestService(t, &stubProvider{deltas: deltas}, Options{CloseOpenThinking: false})
		sess, err := svc.Start(context.Background(), "u2", "q")
		require.NoError(t, err)
		evs := types(collect(t, sess))
		assert.NotContains(t, evs, domain.ThinkingEnd)
		assert.Equal(t, domain.StreamComplete, evs[len(evs)-1])
	})
}

func TestService_PoolFullForgetsID(t *testing.T) {
	p := &stubProvider{block: make(chan struct{})}
	pool := NewPool(1, 0, discardLogger())
	t.Cleanup(func() {
		close(p.block)
		_ = pool.Stop(context.Background())
	})
	svc := NewService(Deps{
		Provider: p,
		Registry: NewRegistry(10, time.Minute, discardLogger()),
		Pool:     pool,
		Logger:   discardLogger(),
	}, Options{})

	require.Eventually(t, func() bool {
		_, err := svc.Start(context.Background(), "busy", "q")
		return err == nil
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return pool.Stats().Busy == 1 }, time.Second, time.Millisecond)

	_, err := svc.Start(context.Background(), "rejected", "q")
	assert.ErrorIs(t, err, domain.ErrPoolFull)
	assert.False(t, svc.Status("rejected").Active)
	assert.False(t, svc.deps.Registry.Seen("rejected"))
}

func TestService_ReapStale(t *testing.T) {
	p := &stubProvider{block: make(chan struct{})}
	defer close(p.block)
	svc, _ := newTestService(t, p, Options{})

	sess, err := svc.Start(context.Background(), "r1", "q")
	require.NoError(t, err)
	sess.StartedAt = sess.StartedAt.Add(-time.Hour)

	assert.Equal(t, 1, svc.ReapStale(context.Background(), time.Minute))
	assert.False(t, svc.Status("r1").Active)
}

type fakeCluster struct {
	mu        sync.Mutex
	claimed   map[string]bool
	claimErr  error
	unclaimed []string
	relayed   []string
}

func (c *fakeCluster) Claim(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimErr != nil {
		return false, c.claimErr
	}
	if c.claimed[id] {
		return false, nil
	}
	c.claimed[id] = true
	return true, nil
}

func (c *fakeCluster) Unclaim(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claimed, id)
	c.unclaimed = append(c.unclaimed, id)
	return nil
}

func (c *fakeCluster) BroadcastCancel(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relayed = append(c.relayed, id)
	return nil
}

func newClusterService(t *testing.T, p domain.StreamingLLMProvider, c *fakeCluster) *Service {
	t.Helper()
	pool := NewPool(2, 2, discardLogger())
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })
	return NewService(Deps{
		Provider: p,
		Registry: NewRegistry(100, time.Minute, discardLogger()),
		Pool:     pool,
		Cluster:  c,
		Logger:   discardLogger(),
	}, Options{})
}

func TestService_ClusterRejectsPeerClaim(t *testing.T) {
	p := &stubProvider{deltas: []domain.StreamDelta{{Done: true}}}
	c := &fakeCluster{claimed: map[string]bool{"peer": true}}
	svc := newClusterService(t, p, c)

	_, err := svc.Start(context.Background(), "peer", "q")
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.False(t, svc.Status("peer").Active)
	assert.Equal(t, int32(0), p.calls.Load())

	sess, err := svc.Start(context.Background(), "fresh", "q")
	require.NoError(t, err)
	collect(t, sess)
	assert.True(t, c.claimed["fresh"])
}

func TestService_ClusterClaimErrorFallsBackToLocal(t *testing.T) {
	p := &stubProvider{deltas: []domain.StreamDelta{{Done: true}}}
	c := &fakeCluster{claimed: map[string]bool{}, claimErr: errors.New("redis down")}
	svc := newClusterService(t, p, c)

	sess, err := svc.Start(context.Background(), "m1", "q")
	require.NoError(t, err)
	collect(t, sess)

	_, err = svc.Start(context.Background(), "m1", "q")
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
}

func TestService_CancelRelaysUnknownID(t *testing.T) {
	c := &fakeCluster{claimed: map[string]bool{}}
	svc := newClusterService(t, &stubProvider{}, c)

	assert.False(t, svc.Cancel(context.Background(), "elsewhere"))
	assert.Equal(t, []string{"elsewhere"}, c.relayed)

	assert.False(t, svc.CancelLocal(context.Background(), "elsewhere"))
	assert.Len(t, c.relayed, 1)
}
