// Package scheduling runs periodic maintenance of the stream service.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduledAction names a maintenance handler.
type ScheduledAction string

const (
	ActionSessionReap  ScheduledAction = "session_reap"
	ActionHistoryPrune ScheduledAction = "history_prune"
)

// ScheduledTask binds an action to a schedule.
type ScheduledTask struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" or duration "30m"
	Action   ScheduledAction
}

// TaskStatus is a snapshot of one task's run history.
type TaskStatus struct {
	Name      string
	Action    ScheduledAction
	Runs      int
	Failures  int
	LastRun   time.Time
	LastError string
}

// taskTimeout bounds a single run of a maintenance action.
const taskTimeout = time.Minute

// Scheduler runs maintenance actions on cron or fixed-interval schedules.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	actions map[ScheduledAction]func(ctx context.Context) error
	tasks   []*task
	ctx     context.Context // nil while stopped
	cancel  context.CancelFunc
}

// task is the cron.Job registered for a ScheduledTask.
type task struct {
	s      *Scheduler
	def    ScheduledTask
	fn     func(ctx context.Context) error
	status TaskStatus // guarded by s.mu
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		actions: make(map[ScheduledAction]func(ctx context.Context) error),
		logger:  logger,
	}
}

// RegisterAction installs the handler for action, replacing any previous one.
func (s *Scheduler) RegisterAction(action ScheduledAction, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// HasAction reports whether an action handler is registered.
func (s *Scheduler) HasAction(action ScheduledAction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.actions[action]
	return ok
}

// AddTask schedules t. Its action must already be registered.
func (s *Scheduler) AddTask(t ScheduledTask) error {
	schedule, err := ParseSchedule(t.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: task %q: %w", t.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.actions[t.Action]
	if !ok {
		return fmt.Errorf("scheduler: task %q: unknown action %q", t.Name, t.Action)
	}

	job := &task{s: s, def: t, fn: fn, status: TaskStatus{Name: t.Name, Action: t.Action}}
	s.cron.Schedule(schedule, job)
	s.tasks = append(s.tasks, job)
	s.logger.Info("task added to scheduler", "name", t.Name, "schedule", t.Schedule, "action", string(t.Action))
	return nil
}

// Run implements cron.Job.
func (t *task) Run() {
	t.s.mu.Lock()
	parent := t.s.ctx
	t.s.mu.Unlock()
	if parent == nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, taskTimeout)
	defer cancel()

	start := time.Now()
	err := t.fn(ctx)
	elapsed := time.Since(start)

	t.s.mu.Lock()
	t.status.Runs++
	t.status.LastRun = start
	t.status.LastError = ""
	if err != nil {
		t.status.Failures++
		t.status.LastError = err.Error()
	}
	t.s.mu.Unlock()

	if err != nil {
		t.s.logger.Warn("scheduled task failed", "task", t.def.Name, "error", err, "duration", elapsed)
		return
	}
	t.s.logger.Debug("scheduled task completed", "task", t.def.Name, "duration", elapsed)
}

// Start runs the cron loop until Stop or until ctx is cancelled. It does not block.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.ctx, s.cancel = nil, nil
	done := s.cron.Stop()
	// Jobs take the lock to read the context, so release it before waiting.
	s.mu.Unlock()

	<-done.Done()
	return nil
}

// Tasks returns the task names in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.def.Name
	}
	return names
}

// Status returns a snapshot of every task's run history.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.status
	}
	return out
}

// ParseSchedule accepts a standard five-field cron expression, a descriptor
// such as "@daily", or a positive Go duration.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(spec); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(spec)
	switch {
	case err != nil:
		return nil, fmt.Errorf("invalid schedule %q: not a cron expression or duration", spec)
	case d <= 0:
		return nil, fmt.Errorf("invalid schedule %q: duration must be positive", spec)
	}
	return interval(d), nil
}

// interval is a fixed-delay cron.Schedule. cron.Every rounds to whole
// seconds; interval does not.
type interval time.Duration

func (d interval) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }
