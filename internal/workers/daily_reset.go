package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/coin-market-api/internal/services"
)

// resetTimeout bounds a single daily reset
const resetTimeout = 10 * time.Minute

// ResetRunner starts a new quota day
type ResetRunner interface {
	Run(ctx context.Context) services.DailyResetResult
}

// DailyReset schedules the quota reset with cron
type DailyReset struct {
	runner ResetRunner
	cron   *cron.Cron
}

// NewDailyReset registers the reset on schedule (standard five-field cron
// syntax or a descriptor such as "@midnight"). The schedule is evaluated in UTC.
func NewDailyReset(runner ResetRunner, schedule string) (*DailyReset, error) {
	logger := cronLogger{log.With().Str("component", "cron").Logger()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	w := &DailyReset{runner: runner, cron: c}
	if _, err := c.AddFunc(schedule, func() { w.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule daily reset %q: %w", schedule, err)
	}
	return w, nil
}

// Start runs the scheduler until ctx is done, then waits for a running
// reset to finish.
func (w *DailyReset) Start(ctx context.Context) {
	log.Info().Time("next", w.Next()).Msg("Starting Daily Reset worker")
	w.cron.Start()

	<-ctx.Done()
	<-w.cron.Stop().Done()
	log.Info().Msg("Daily Reset worker stopped")
}

// Next reports when the reset fires next. Zero before Start.
func (w *DailyReset) Next() time.Time {
	entries := w.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(time.Now().UTC())
}

// RunOnce performs a single bounded reset
func (w *DailyReset) RunOnce(ctx context.Context) services.DailyResetResult {
	ctx, cancel := context.WithTimeout(ctx, resetTimeout)
	defer cancel()

	res := w.runner.Run(ctx)
	if res.Skipped {
		log.Warn().Msg("Daily reset skipped, previous reset still running")
		return res
	}
	for _, err := range res.Errors {
		log.Error().Err(err).Msg("Daily reset step failed")
	}
	return res
}

// cronLogger routes robfig/cron logging into zerolog
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
