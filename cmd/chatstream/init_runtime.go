package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"chatstream/internal/adapter/gateway"
	"chatstream/internal/adapter/history"
	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
	"chatstream/internal/infra/middleware"
	"chatstream/internal/usecase/cluster"
	"chatstream/internal/usecase/scheduling"
	"chatstream/internal/usecase/stream"
)

// redisAdapter wraps a go-redis client to implement cluster.RedisClient.
type redisAdapter struct {
	client *goredis.Client
}

func (r *redisAdapter) SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, expiration).Result()
}

func (r *redisAdapter) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *redisAdapter) Publish(ctx context.Context, channel string, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

func (r *redisAdapter) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	sub := r.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so a bad connection fails here.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	ch := make(chan string, 64)
	go func() {
		defer close(ch)
		msgCh := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				ch <- msg.Payload
			}
		}
	}()
	return ch, nil
}

func (r *redisAdapter) Close() error {
	return r.client.Close()
}

// RuntimeComponents holds the serving side: stream service, scheduler,
// gateway and optional cluster coordination.
type RuntimeComponents struct {
	Stream    *stream.Service
	Pool      *stream.Pool
	History   domain.TranscriptStore
	Cluster   *cluster.Coordinator
	Scheduler *scheduling.Scheduler
	Gateway   *gateway.Server
}

// initRuntime wires everything the serve command runs. The returned cleanup
// stops components in reverse order.
func initRuntime(ctx context.Context, cfg *config.Config, llmComp *LLMComponents, bus domain.EventBus, log *slog.Logger) (*RuntimeComponents, func(context.Context) error, error) {
	rt := &RuntimeComponents{}
	var cleanups []func(context.Context) error
	cleanup := func(ctx context.Context) error {
		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			errs = append(errs, cleanups[i](ctx))
		}
		return errors.Join(errs...)
	}

	// 1. Transcript history
	if cfg.History.Enabled {
		store, err := history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("history: %w", err)
		}
		rt.History = store
		cleanups = append(cleanups, func(context.Context) error { return store.Close() })
		log.Info("transcript history enabled", "path", cfg.History.Path, "retention", cfg.History.Retention)
	}

	// 2. Cluster coordination
	if cfg.Cluster.Enabled {
		coord, err := initCluster(ctx, cfg.Cluster, cfg.Registry.ProcessedTTL, log)
		if err != nil {
			cleanup(ctx)
			return nil, nil, fmt.Errorf("cluster: %w", err)
		}
		rt.Cluster = coord
		cleanups = append(cleanups, func(context.Context) error { return coord.Stop() })
	}

	// 3. Stream service
	pc, _ := cfg.DefaultProvider()
	rt.Pool = stream.NewPool(cfg.Stream.Workers, cfg.Stream.QueueDepth, log)
	cleanups = append(cleanups, rt.Pool.Stop)

	deps := stream.Deps{
		Provider: llmComp.DefaultLLM,
		Registry: stream.NewRegistry(cfg.Registry.ProcessedSize, cfg.Registry.ProcessedTTL, log),
		Pool:     rt.Pool,
		Bus:      bus,
		History:  rt.History,
		Logger:   log,
	}
	if rt.Cluster != nil {
		deps.Cluster = rt.Cluster
	}
	rt.Stream = stream.NewService(deps, stream.Options{
		Model:             pc.Model,
		Temperature:       pc.Temperature,
		TopP:              pc.TopP,
		TopK:              pc.TopK,
		MaxTokens:         pc.MaxTokens,
		Think:             pc.Think,
		ChunkThreshold:    cfg.Stream.ChunkThreshold,
		CloseOpenThinking: cfg.Stream.CloseOpenThinking,
	})

	if rt.Cluster != nil {
		if err := rt.Cluster.ListenCancels(ctx, rt.Stream.CancelLocal); err != nil {
			cleanup(ctx)
			return nil, nil, fmt.Errorf("cluster: %w", err)
		}
	}

	// 4. Scheduler
	if cfg.Scheduler.Enabled {
		sched, err := initScheduler(cfg, rt, bus, log)
		if err != nil {
			cleanup(ctx)
			return nil, nil, fmt.Errorf("scheduler: %w", err)
		}
		rt.Scheduler = sched
		cleanups = append(cleanups, func(context.Context) error { return sched.Stop() })
	}

	// 5. Gateway
	rt.Gateway = initGateway(cfg, llmComp, rt, bus, log)

	return rt, cleanup, nil
}

func initCluster(ctx context.Context, cc config.ClusterConfig, claimTTL time.Duration, log *slog.Logger) (*cluster.Coordinator, error) {
	opts, err := goredis.ParseURL(cc.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	nodeID := cc.NodeID
	if nodeID == "" {
		host, _ := os.Hostname()
		nodeID = host + "-" + strconv.Itoa(os.Getpid())
	}

	log.Info("cluster coordination enabled", "redis", opts.Addr, "node", nodeID)
	return cluster.NewCoordinator(&redisAdapter{client: client}, cluster.Config{
		NodeID:   nodeID,
		ClaimTTL: claimTTL,
	}, log), nil
}

func initScheduler(cfg *config.Config, rt *RuntimeComponents, bus domain.EventBus, log *slog.Logger) (*scheduling.Scheduler, error) {
	sched := scheduling.NewScheduler(log)

	mdeps := scheduling.MaintenanceDeps{
		Streams:       rt.Stream,
		MaxSessionAge: cfg.Registry.MaxSessionAge,
		Retention:     cfg.History.Retention,
		Bus:           bus,
		Logger:        log,
	}
	if rt.History != nil {
		mdeps.History = rt.History
	}
	scheduling.RegisterMaintenance(sched, mdeps)

	for _, t := range cfg.Scheduler.Tasks {
		action := scheduling.ScheduledAction(t.Action)
		if !sched.HasAction(action) {
			log.Debug("scheduled task skipped, action not enabled", "task", t.Name, "action", t.Action)
			continue
		}
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     t.Name,
			Schedule: t.Schedule,
			Action:   action,
		}); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func initGateway(cfg *config.Config, llmComp *LLMComponents, rt *RuntimeComponents, bus domain.EventBus, log *slog.Logger) *gateway.Server {
	opts := gateway.Options{
		Addr:              cfg.Server.Addr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		CORSOrigin:        cfg.Server.CORSOrigin,
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		opts.RateLimit = &middleware.RateLimitConfig{
			PerMinute: rl.PerMinute,
			Burst:     rl.Burst,
		}
	}
	srv := gateway.NewServer(opts, log)

	deps := gateway.HandlerDeps{
		Stream:           rt.Stream,
		Bus:              bus,
		Auth:             gateway.NewAuthenticator(cfg.Server.Auth),
		Models:           llmComp.Models,
		Health:           llmComp.Health,
		History:          rt.History,
		Logger:           log,
		KeepaliveTimeout: cfg.Stream.KeepaliveTimeout,
		JoinTimeout:      cfg.Stream.JoinTimeout,
		WebSocket:        cfg.Server.WebSocket,
		Version:          version,
	}
	if origin := cfg.Server.CORSOrigin; origin != "" {
		deps.AllowedOrigins = strings.Split(origin, ",")
	}
	gateway.RegisterHandlers(srv, deps)
	return srv
}
