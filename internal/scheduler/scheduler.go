package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Scheduler drives the batch engine off two independent weekly timers. Each
// timer runs in its own goroutine so a slow batch on one trigger never delays
// the other.
type Scheduler struct {
	engine     *Engine
	entryTimer *WeeklyTimer
	exitTimer  *WeeklyTimer
	logger     *logrus.Logger
	now        func() time.Time
}

// New creates a Scheduler.
func New(engine *Engine, entryTimer, exitTimer *WeeklyTimer, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		engine:     engine,
		entryTimer: entryTimer,
		exitTimer:  exitTimer,
		logger:     logger,
		now:        time.Now,
	}
}

// Run blocks until the context is cancelled, firing batches at their trigger
// times. Batch failures are logged and the schedule keeps running; an
// operator restart after fixing credentials is the recovery path.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.runJob(gctx, "entry", s.entryTimer, s.engine.RunEntry)
	})
	g.Go(func() error {
		return s.runJob(gctx, "exit", s.exitTimer, s.engine.RunExit)
	})
	return g.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, name string, timer *WeeklyTimer,
	run func(context.Context) (*BatchResult, error)) error {
	for {
		next := timer.Next(s.now())
		s.logger.WithFields(logrus.Fields{
			"job":  name,
			"next": next.Format(time.RFC3339),
		}).Info("job scheduled")

		wait := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-wait.C:
		}

		if _, err := run(ctx); err != nil {
			s.logger.WithField("job", name).WithError(err).Error("batch failed")
		}
	}
}
