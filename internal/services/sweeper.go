package services

import (
	"context"
	"fmt"
	"time"

	"table-service/internal/logger"
	"table-service/internal/models"
)

// Sweeper runs the periodic housekeeping: expiring stale sessions, purging
// old finished ones and retrying failed table syncs.
type Sweeper struct {
	sessions  *SessionService
	orders    *OrderService
	interval  time.Duration
	retention time.Duration
	log       *logger.Logger
}

func NewSweeper(sessions *SessionService, orders *OrderService, interval, retention time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		sessions:  sessions,
		orders:    orders,
		interval:  interval,
		retention: retention,
		log:       log,
	}
}

// Run blocks until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.LogProcess("SWEEPER", fmt.Sprintf("Sweeper started, interval %s", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.log.LogProcess("SWEEPER", "Sweeper stopped")
			return nil
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one housekeeping pass. Failures are logged and the pass goes on.
func (w *Sweeper) Sweep(ctx context.Context) {
	if n, err := w.sessions.ExpireStale(ctx); err != nil {
		w.log.Warn("SWEEPER", fmt.Sprintf("Expiring sessions failed: %v", err))
	} else if n > 0 {
		w.log.Info("SWEEPER", fmt.Sprintf("Expired %d sessions", n))
	}

	if w.retention > 0 {
		res, err := w.sessions.Cleanup(ctx, models.CleanupOptions{OlderThan: w.retention})
		if err != nil {
			w.log.Warn("SWEEPER", fmt.Sprintf("Session cleanup failed: %v", err))
		} else if res.Count > 0 {
			w.log.Info("SWEEPER", fmt.Sprintf("Removed %d finished sessions", res.Count))
		}
	}

	if w.orders != nil {
		if n, err := w.orders.ReconcileTableSync(ctx); err != nil {
			w.log.Warn("SWEEPER", fmt.Sprintf("Table sync retry failed: %v", err))
		} else if n > 0 {
			w.log.Info("SWEEPER", fmt.Sprintf("Resynchronized %d tables", n))
		}
	}
}
