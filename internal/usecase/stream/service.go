package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chatstream/internal/domain"
	"chatstream/internal/infra/tracer"
)

// Options controls how each generation is requested and split.
type Options struct {
	Model             string
	Temperature       float64
	TopP              float64
	TopK              int
	MaxTokens         int
	Think             bool
	ChunkThreshold    int
	CloseOpenThinking bool
}

// Cluster shares processed ids and cancel requests with other replicas.
type Cluster interface {
	Claim(ctx context.Context, messageID string) (bool, error)
	Unclaim(ctx context.Context, messageID string) error
	BroadcastCancel(ctx context.Context, messageID string) error
}

// Deps holds the collaborators of a Service. Bus, History and Cluster are
// optional.
type Deps struct {
	Provider domain.StreamingLLMProvider
	Registry *Registry
	Pool     *Pool
	Bus      domain.EventBus
	History  domain.TranscriptStore
	Cluster  Cluster
	Logger   *slog.Logger
}

// Service starts, observes and cancels streamed answers.
type Service struct {
	deps Deps
	opts Options
}

// NewService creates a Service.
func NewService(deps Deps, opts Options) *Service {
	if opts.ChunkThreshold < 1 {
		opts.ChunkThreshold = DefaultChunkThreshold
	}
	return &Service{deps: deps, opts: opts}
}

// Start registers a session for messageID and schedules its generation.
// It fails with domain.ErrMissingParameter, domain.ErrDuplicateRequest or
// domain.ErrPoolFull; in every failure case no generation runs.
func (s *Service) Start(ctx context.Context, messageID, prompt string) (*Session, error) {
	if messageID == "" || prompt == "" {
		return nil, domain.NewDomainError("Stream.Start", domain.ErrMissingParameter, "")
	}

	sess := NewSession(messageID, prompt)
	if err := s.deps.Registry.Register(sess); err != nil {
		s.publish(ctx, domain.NewEvent(domain.EventStreamRejected, messageID,
			domain.StreamRejectedPayload{Reason: domain.ErrorCodeOf(err)}))
		return nil, err
	}

	claimed, err := s.claim(ctx, messageID)
	if !claimed {
		s.deps.Registry.Remove(messageID)
		sess.finish()
		s.publish(ctx, domain.NewEvent(domain.EventStreamRejected, messageID,
			domain.StreamRejectedPayload{Reason: domain.ErrorCodeOf(err)}))
		return nil, err
	}

	if err := s.deps.Pool.Submit(func(workerCtx context.Context) { s.generate(workerCtx, sess) }); err != nil {
		s.deps.Registry.Remove(messageID)
		s.deps.Registry.Forget(messageID)
		s.unclaim(ctx, messageID)
		sess.finish()
		s.publish(ctx, domain.NewEvent(domain.EventStreamRejected, messageID,
			domain.StreamRejectedPayload{Reason: domain.ErrorCodeOf(err)}))
		return nil, err
	}

	s.deps.Logger.Debug("stream scheduled", "message_id", messageID, "prompt_len", len(prompt))
	return sess, nil
}

// claim takes messageID cluster-wide. A Redis failure is logged and the
// request proceeds on the local duplicate check alone.
func (s *Service) claim(ctx context.Context, messageID string) (bool, error) {
	if s.deps.Cluster == nil {
		return true, nil
	}
	ok, err := s.deps.Cluster.Claim(ctx, messageID)
	if err != nil {
		s.deps.Logger.Warn("cluster claim failed", "message_id", messageID, "error", err)
		return true, nil
	}
	if !ok {
		return false, domain.NewDomainError("Stream.Start", domain.ErrDuplicateRequest, messageID)
	}
	return true, nil
}

func (s *Service) unclaim(ctx context.Context, messageID string) {
	if s.deps.Cluster == nil {
		return
	}
	if err := s.deps.Cluster.Unclaim(context.WithoutCancel(ctx), messageID); err != nil {
		s.deps.Logger.Warn("cluster unclaim failed", "message_id", messageID, "error", err)
	}
}

func (s *Service) generate(workerCtx context.Context, sess *Session) {
	defer sess.finish()

	ctx, cancel := context.WithCancel(workerCtx)
	defer cancel()
	if !sess.bind(cancel) {
		return
	}

	ctx, span := tracer.StartSpan(ctx, "stream.generate")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("stream.message_id", sess.ID),
		tracer.StringAttr("llm.provider", s.deps.Provider.Name()),
		tracer.StringAttr("llm.model", s.opts.Model),
	)

	s.publish(ctx, domain.NewEvent(domain.EventStreamStarted, sess.ID, domain.StreamStartedPayload{
		Provider: s.deps.Provider.Name(),
		Model:    s.opts.Model,
	}))

	em := NewEmitter(sess.ID, sess.Events(), s.opts.ChunkThreshold,
		WithCloseOpenThinking(s.opts.CloseOpenThinking),
		WithProgress(&sess.contentLen),
	)
	err := Drive(ctx, s.deps.Provider, s.request(sess.Prompt), em)
	elapsed := time.Since(sess.StartedAt)

	t := domain.Transcript{
		MessageID: sess.ID,
		Prompt:    sess.Prompt,
		Answer:    em.Splitter().Answer(),
		Thinking:  em.Splitter().Thinking(),
		Provider:  s.deps.Provider.Name(),
		Model:     s.opts.Model,
		StartedAt: sess.StartedAt,
		Duration:  elapsed,
	}

	switch {
	case err == nil:
		t.Outcome = domain.OutcomeCompleted
		tracer.SetOK(span)
		span.SetAttributes(tracer.IntAttr("stream.content_length", len(em.Splitter().FullContent())))
		s.publish(ctx, domain.NewEvent(domain.EventStreamCompleted, sess.ID, domain.StreamCompletedPayload{
			ContentLength: len(em.Splitter().FullContent()),
			Duration:      elapsed,
		}))
		s.deps.Logger.Info("stream completed", "message_id", sess.ID, "duration", elapsed)
	case sess.Cancelled() || errors.Is(err, context.Canceled):
		t.Outcome = domain.OutcomeCancelled
		s.deps.Logger.Info("stream stopped", "message_id", sess.ID, "duration", elapsed)
	default:
		t.Outcome = domain.OutcomeFailed
		t.Error = err.Error()
		tracer.RecordError(span, err)
		s.publish(ctx, domain.NewEvent(domain.EventStreamError, sess.ID, domain.StreamErrorPayload{Error: err.Error()}))
		s.deps.Logger.Error("stream failed", "message_id", sess.ID, "error", err)
	}

	s.record(t)
}

func (s *Service) request(prompt string) domain.ChatRequest {
	req := domain.PromptRequest(s.opts.Model, prompt)
	req.Temperature = s.opts.Temperature
	req.TopP = s.opts.TopP
	req.TopK = s.opts.TopK
	req.MaxTokens = s.opts.MaxTokens
	req.Think = s.opts.Think
	return req
}

func (s *Service) record(t domain.Transcript) {
	if s.deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.History.Save(ctx, t); err != nil {
		s.deps.Logger.Warn("transcript save failed", "message_id", t.MessageID, "error", err)
	}
}

// Status returns the status of messageID.
func (s *Service) Status(messageID string) domain.SessionStatus {
	return s.deps.Registry.Lookup(messageID)
}

// Sessions lists active sessions.
func (s *Service) Sessions() []domain.SessionStatus {
	return s.deps.Registry.List()
}

// Cancel stops messageID's stream. It reports whether the session was active
// on this node; when it was not, the request is relayed to the other
// replicas.
func (s *Service) Cancel(ctx context.Context, messageID string) bool {
	if s.CancelLocal(ctx, messageID) {
		return true
	}
	if s.deps.Cluster != nil {
		if err := s.deps.Cluster.BroadcastCancel(context.WithoutCancel(ctx), messageID); err != nil {
			s.deps.Logger.Warn("cancel relay failed", "message_id", messageID, "error", err)
		}
	}
	return false
}

// CancelLocal stops messageID's stream if it runs on this node.
func (s *Service) CancelLocal(ctx context.Context, messageID string) bool {
	if !s.deps.Registry.Cancel(messageID) {
		return false
	}
	s.publish(ctx, domain.NewEvent(domain.EventStreamCancelled, messageID, nil))
	return true
}

// Release removes messageID from the registry at stream teardown.
func (s *Service) Release(messageID string) {
	s.deps.Registry.Remove(messageID)
}

// ReapStale cancels sessions running longer than maxAge.
func (s *Service) ReapStale(ctx context.Context, maxAge time.Duration) int {
	ids := s.deps.Registry.ReapStale(maxAge)
	for _, id := range ids {
		s.publish(ctx, domain.NewEvent(domain.EventStreamCancelled, id, nil))
	}
	if len(ids) > 0 {
		s.publish(ctx, domain.NewEvent(domain.EventSessionReaped, "", domain.CountPayload{Count: len(ids)}))
		s.deps.Logger.Warn("reaped stale streams", "count", len(ids))
	}
	return len(ids)
}

// PoolStats reports worker pool occupancy.
func (s *Service) PoolStats() PoolStats {
	return s.deps.Pool.Stats()
}

// Processed returns the number of remembered message ids.
func (s *Service) Processed() int {
	return s.deps.Registry.ProcessedLen()
}

// ProviderName returns the configured provider's name.
func (s *Service) ProviderName() string {
	return s.deps.Provider.Name()
}

func (s *Service) publish(ctx context.Context, ev domain.Event) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(context.WithoutCancel(ctx), ev)
}
