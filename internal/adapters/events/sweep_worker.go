package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/application"
)

// SweepWorker runs the expired-state sweep on a fixed cadence. The sweep's
// only predicate is recorded expiry, so overlapping runs with the HTTP job
// route or another worker replica stay harmless.
type SweepWorker struct {
	logger   *slog.Logger
	service  *application.Service
	interval time.Duration
}

func NewSweepWorker(logger *slog.Logger, service *application.Service, interval time.Duration) *SweepWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SweepWorker{logger: logger, service: service, interval: interval}
}

func (w *SweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		result, err := w.service.CleanupExpired(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "sweep iteration failed",
				"module", "events.sweep_worker",
				"layer", "adapter",
				"operation", "cleanup_expired",
				"outcome", "failure",
				"error", err,
			)
		} else {
			w.logger.InfoContext(ctx, "sweep complete",
				"module", "events.sweep_worker",
				"layer", "adapter",
				"operation", "cleanup_expired",
				"outcome", "success",
				"sessions_deleted", result.SessionsDeleted,
				"sync_events_deleted", result.SyncEventsDeleted,
				"trial_actions_deleted", result.TrialActionsDeleted,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
