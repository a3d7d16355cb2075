// Package cluster shares message-id claims and cancel requests between
// gateway replicas through Redis.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	claimPrefix   = "chatstream:processed:"
	cancelChannel = "chatstream:cancel"
)

// RedisClient abstracts the Redis operations needed by the Coordinator.
// This allows a real go-redis client or a mock to be used interchangeably.
type RedisClient interface {
	// SetNX sets key to value if it does not exist. Returns true if set.
	SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error)
	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) error
	// Publish publishes a message to a channel.
	Publish(ctx context.Context, channel string, message string) error
	// Subscribe subscribes to a channel. Returns a channel of messages.
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
	// Close shuts down the client.
	Close() error
}

// CancelHandler stops a locally running stream. It reports whether one was
// found.
type CancelHandler func(ctx context.Context, messageID string) bool

// Config holds configuration for the coordinator.
type Config struct {
	NodeID   string
	ClaimTTL time.Duration // default: 30m
}

type cancelRequest struct {
	Node      string `json:"node"`
	MessageID string `json:"message_id"`
}

// Coordinator makes message ids unique across every replica and relays
// cancel requests to the replica that owns the stream.
type Coordinator struct {
	nodeID   string
	client   RedisClient
	logger   *slog.Logger
	claimTTL time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCoordinator creates a new coordinator with the given Redis client.
func NewCoordinator(client RedisClient, cfg Config, logger *slog.Logger) *Coordinator {
	ttl := cfg.ClaimTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Coordinator{
		nodeID:   cfg.NodeID,
		client:   client,
		logger:   logger,
		claimTTL: ttl,
		stopCh:   make(chan struct{}),
	}
}

// NodeID returns this node's identifier.
func (c *Coordinator) NodeID() string { return c.nodeID }

// Claim records messageID as processed cluster-wide. It returns false when
// any replica claimed the id first.
func (c *Coordinator) Claim(ctx context.Context, messageID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, claimPrefix+messageID, c.nodeID, c.claimTTL)
	if err != nil {
		return false, fmt.Errorf("claim message id: %w", err)
	}
	if !ok {
		c.logger.Debug("message id claimed elsewhere", "message_id", messageID, "node", c.nodeID)
	}
	return ok, nil
}

// Unclaim drops a claim taken for a request that never started, so a retry
// with the same id is accepted.
func (c *Coordinator) Unclaim(ctx context.Context, messageID string) error {
	if err := c.client.Del(ctx, claimPrefix+messageID); err != nil {
		return fmt.Errorf("unclaim message id: %w", err)
	}
	return nil
}

// BroadcastCancel asks the other replicas to stop messageID's stream.
func (c *Coordinator) BroadcastCancel(ctx context.Context, messageID string) error {
	data, err := json.Marshal(cancelRequest{Node: c.nodeID, MessageID: messageID})
	if err != nil {
		return fmt.Errorf("marshal cancel request: %w", err)
	}
	if err := c.client.Publish(ctx, cancelChannel, string(data)); err != nil {
		return fmt.Errorf("publish cancel request: %w", err)
	}
	return nil
}

// ListenCancels subscribes to cancel requests from other replicas and runs
// handler for each until ctx ends or Stop is called. Requests published by
// this node are skipped.
func (c *Coordinator) ListenCancels(ctx context.Context, handler CancelHandler) error {
	ch, err := c.client.Subscribe(ctx, cancelChannel)
	if err != nil {
		return fmt.Errorf("subscribe cancel requests: %w", err)
	}

	go func() {
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var req cancelRequest
				if err := json.Unmarshal([]byte(msg), &req); err != nil {
					c.logger.Warn("failed to unmarshal cancel request", "error", err)
					continue
				}
				if req.Node == c.nodeID || req.MessageID == "" {
					continue
				}
				if handler(ctx, req.MessageID) {
					c.logger.Info("stream cancelled by peer", "message_id", req.MessageID, "peer", req.Node)
				}
			}
		}
	}()
	return nil
}

// Stop shuts down the coordinator.
func (c *Coordinator) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopCh)
		err = c.client.Close()
	})
	return err
}
