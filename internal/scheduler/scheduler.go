// Package scheduler runs the configured watchlist on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dyike/cortexdesk/internal/dataflows"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/models"
)

const dateLayout = "2006-01-02"

// RunFunc runs one decision for ticker on date (YYYY-MM-DD).
type RunFunc func(ctx context.Context, ticker, date string) (*models.RunResult, error)

// Outcome is the result of one watchlist entry.
type Outcome struct {
	Ticker string
	Result *models.RunResult
	Err    error
}

type Scheduler struct {
	cron      *cron.Cron
	run       RunFunc
	watchlist func() []string
	logger    *logging.Logger
	ctx       context.Context
	now       func() time.Time
}

// NewScheduler uses the standard five-field cron syntax. A tick that fires
// while the previous watchlist pass is still running is skipped.
func NewScheduler(ctx context.Context, run RunFunc, watchlist func() []string, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}
	return &Scheduler{
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		run:       run,
		watchlist: watchlist,
		logger:    logger,
		ctx:       ctx,
		now:       time.Now,
	}
}

// Register adds the watchlist pass under spec.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunNow() }); err != nil {
		return fmt.Errorf("register watchlist schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.cron.Entries()))
}

// Stop stops scheduling and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Next is the next scheduled pass, zero when nothing is registered.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

// RunNow runs every watchlist ticker for today, one after another. A
// failure for one ticker does not stop the others.
func (s *Scheduler) RunNow() []Outcome {
	date := s.now().Format(dateLayout)
	var out []Outcome
	seen := make(map[string]bool)
	for _, raw := range s.watchlist() {
		ticker := dataflows.NormalizeSymbol(raw)
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true
		if err := s.ctx.Err(); err != nil {
			out = append(out, Outcome{Ticker: ticker, Err: err})
			continue
		}

		log := s.logger.With("ticker", ticker, "date", date)
		res, err := s.run(s.ctx, ticker, date)
		if err != nil {
			log.Error("scheduled run failed", "error", err)
		} else {
			log.Info("scheduled run finished", "run_id", res.RunID, "action", res.Decision.Action)
		}
		out = append(out, Outcome{Ticker: ticker, Result: res, Err: err})
	}
	return out
}

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
