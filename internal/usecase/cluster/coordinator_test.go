package cluster

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// --- Mock Redis client ---

type mockRedis struct {
	mu     sync.Mutex
	store  map[string]string
	expiry map[string]time.Duration
	pubCh  map[string][]chan string
	closed bool
	err    error
}

func newMockRedis() *mockRedis {
	return &mockRedis{
		store:  make(map[string]string),
		expiry: make(map[string]time.Duration),
		pubCh:  make(map[string][]chan string),
	}
}

func (m *mockRedis) SetNX(_ context.Context, key, value string, exp time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, exists := m.store[key]; exists {
		return false, nil
	}
	m.store[key] = value
	m.expiry[key] = exp
	return true, nil
}

func (m *mockRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.store, k)
		delete(m.expiry, k)
	}
	return nil
}

func (m *mockRedis) Publish(_ context.Context, channel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.pubCh[channel] {
		select {
		case ch <- message:
		default:
		}
	}
	return nil
}

func (m *mockRedis) Subscribe(_ context.Context, channel string) (<-chan string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan string, 32)
	m.pubCh[channel] = append(m.pubCh[channel], ch)
	return ch, nil
}

func (m *mockRedis) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, chs := range m.pubCh {
		for _, ch := range chs {
			close(ch)
		}
	}
	m.pubCh = make(map[string][]chan string)
	return nil
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// --- Tests ---

func TestClaim(t *testing.T) {
	redis := newMockRedis()
	coord := NewCoordinator(redis, Config{NodeID: "node-1"}, discard())
	ctx := context.Background()

	got, err := coord.Claim(ctx, "m1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !got {
		t.Error("expected first claim to succeed")
	}

	got, err = coord.Claim(ctx, "m1")
	if err != nil {
		t.Fatalf("Claim second: %v", err)
	}
	if got {
		t.Error("expected repeated claim to fail")
	}
	if redis.expiry[claimPrefix+"m1"] != 30*time.Minute {
		t.Errorf("ttl = %v, want 30m", redis.expiry[claimPrefix+"m1"])
	}
}

func TestClaim_DifferentNodes(t *testing.T) {
	redis := newMockRedis()
	node1 := NewCoordinator(redis, Config{NodeID: "node-1"}, discard())
	node2 := NewCoordinator(redis, Config{NodeID: "node-2", ClaimTTL: time.Minute}, discard())
	ctx := context.Background()

	if ok, _ := node1.Claim(ctx, "m1"); !ok {
		t.Fatal("node-1 should claim m1")
	}
	if ok, _ := node2.Claim(ctx, "m1"); ok {
		t.Fatal("node-2 must not claim an id node-1 holds")
	}
	if ok, _ := node2.Claim(ctx, "m2"); !ok {
		t.Fatal("node-2 should claim a different id")
	}
	if redis.expiry[claimPrefix+"m2"] != time.Minute {
		t.Errorf("ttl = %v, want 1m", redis.expiry[claimPrefix+"m2"])
	}
}

func TestUnclaim(t *testing.T) {
	redis := newMockRedis()
	coord := NewCoordinator(redis, Config{NodeID: "node-1"}, discard())
	ctx := context.Background()

	coord.Claim(ctx, "m1")
	if err := coord.Unclaim(ctx, "m1"); err != nil {
		t.Fatalf("Unclaim: %v", err)
	}
	if ok, _ := coord.Claim(ctx, "m1"); !ok {
		t.Error("expected to claim again after unclaim")
	}
}

func TestClaim_RedisError(t *testing.T) {
	redis := newMockRedis()
	redis.err = errors.New("connection refused")
	coord := NewCoordinator(redis, Config{NodeID: "node-1"}, discard())

	ok, err := coord.Claim(context.Background(), "m1")
	if err == nil {
		t.Fatal("expected error")
	}
	if ok {
		t.Error("failed claim must not report success")
	}
}

func TestCancelRelay(t *testing.T) {
	redis := newMockRedis()
	node1 := NewCoordinator(redis, Config{NodeID: "node-1"}, discard())
	node2 := NewCoordinator(redis, Config{NodeID: "node-2"}, discard())
	defer node1.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got1 := make(chan string, 1)
	got2 := make(chan string, 1)
	if err := node1.ListenCancels(ctx, func(_ context.Context, id string) bool {
		got1 <- id
		return true
	}); err != nil {
		t.Fatalf("ListenCancels: %v", err)
	}
	if err := node2.ListenCancels(ctx, func(_ context.Context, id string) bool {
		got2 <- id
		return true
	}); err != nil {
		t.Fatalf("ListenCancels: %v", err)
	}

	if err := node1.BroadcastCancel(ctx, "m7"); err != nil {
		t.Fatalf("BroadcastCancel: %v", err)
	}

	select {
	case id := <-got2:
		if id != "m7" {
			t.Errorf("peer got %q, want m7", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for relayed cancel")
	}

	select {
	case id := <-got1:
		t.Errorf("sender handled its own cancel request for %q", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenCancels_SkipsMalformed(t *testing.T) {
	redis := newMockRedis()
	coord := NewCoordinator(redis, Config{NodeID: "node-1"}, discard())
	defer coord.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 2)
	coord.ListenCancels(ctx, func(_ context.Context, id string) bool {
		got <- id
		return false
	})

	redis.Publish(ctx, cancelChannel, "not json")
	redis.Publish(ctx, cancelChannel, `{"node":"node-9","message_id":"m3"}`)

	select {
	case id := <-got:
		if id != "m3" {
			t.Errorf("got %q, want m3", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestCoordinatorNodeID(t *testing.T) {
	coord := NewCoordinator(newMockRedis(), Config{NodeID: "my-node"}, discard())
	if coord.NodeID() != "my-node" {
		t.Errorf("NodeID = %q, want %q", coord.NodeID(), "my-node")
	}
}

func TestCoordinatorStop(t *testing.T) {
	redis := newMockRedis()
	coord := NewCoordinator(redis, Config{NodeID: "n1"}, discard())

	if err := coord.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := coord.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if !redis.closed {
		t.Error("expected redis client to be closed")
	}
}
