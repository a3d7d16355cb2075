package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatstream/internal/domain"
)

// StaleReaper cancels sessions that have run longer than a maximum age.
type StaleReaper interface {
	ReapStale(ctx context.Context, maxAge time.Duration) int
}

// HistoryPruner deletes transcripts older than a cutoff.
type HistoryPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// MaintenanceDeps wires the maintenance actions.
type MaintenanceDeps struct {
	Streams       StaleReaper
	MaxSessionAge time.Duration
	History       HistoryPruner // nil when history is disabled
	Retention     time.Duration
	Bus           domain.EventBus
	Logger        *slog.Logger
	Now           func() time.Time
}

// RegisterMaintenance registers the session_reap and history_prune actions.
// history_prune is registered only when a history store and a positive
// retention are configured.
func RegisterMaintenance(s *Scheduler, deps MaintenanceDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	if deps.Streams != nil && deps.MaxSessionAge > 0 {
		s.RegisterAction(ActionSessionReap, func(ctx context.Context) error {
			deps.Streams.ReapStale(ctx, deps.MaxSessionAge)
			return nil
		})
	}

	if deps.History != nil && deps.Retention > 0 {
		s.RegisterAction(ActionHistoryPrune, func(ctx context.Context) error {
			cutoff := deps.Now().Add(-deps.Retention)
			n, err := deps.History.Prune(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("prune history: %w", err)
			}
			if n > 0 {
				deps.Logger.Info("pruned transcripts", "count", n, "cutoff", cutoff)
				if deps.Bus != nil {
					deps.Bus.Publish(ctx, domain.NewEvent(domain.EventHistoryPruned, "", domain.CountPayload{Count: n}))
				}
			}
			return nil
		})
	}
}
