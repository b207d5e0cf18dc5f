package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/coin-market-api/internal/services"
)

// ReconcileRunner performs one reconciliation pass
type ReconcileRunner interface {
	Run(ctx context.Context) services.ReconcileResult
}

// Reconcile periodically drains cached key state into Postgres
type Reconcile struct {
	runner   ReconcileRunner
	interval time.Duration
	timeout  time.Duration
}

// NewReconcile creates a new Reconcile worker. Each pass gets at most one
// interval to finish.
func NewReconcile(runner ReconcileRunner, interval time.Duration) *Reconcile {
	return &Reconcile{
		runner:   runner,
		interval: interval,
		timeout:  interval,
	}
}

// Start runs a pass immediately and then on every tick until ctx is done.
// Passes run on this goroutine, so they never overlap; ticks missed while
// a pass is running are dropped by the ticker.
func (w *Reconcile) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting Reconcile worker")

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reconcile worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single bounded pass
func (w *Reconcile) RunOnce(ctx context.Context) services.ReconcileResult {
	passCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	res := w.runner.Run(passCtx)
	if res.Skipped {
		log.Warn().Str("run_id", res.RunID).Msg("Reconcile pass skipped, another job holds the lock")
		return res
	}

	event := log.Info()
	if len(res.Errors) > 0 {
		event = log.Warn()
	}
	event.
		Str("run_id", res.RunID).
		Int("scanned", res.Scanned).
		Int("updated", res.Updated).
		Int("mirrored", res.Mirrored).
		Int("errors", len(res.Errors)).
		Dur("elapsed", res.Elapsed).
		Msg("Reconcile pass completed")
	return res
}
