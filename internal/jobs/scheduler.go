// Package jobs runs the periodic background tasks.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/digkill/IMEICheckBot/pkg/logger"
)

// Scheduler wraps cron. Registered jobs receive the context passed to Start.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
	ctx  context.Context
}

func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = logger.Discard()
	}
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{cron: c, log: log, ctx: context.Background()}
}

// Add registers fn under a cron spec such as "@every 300s" or "@daily".
func (s *Scheduler) Add(spec, name string, fn func(ctx context.Context) error) error {
	if _, err := s.cron.AddFunc(spec, s.wrap(name, fn)); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.log.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

// Every registers fn to run at a fixed interval.
func (s *Scheduler) Every(interval time.Duration, name string, fn func(ctx context.Context) error) error {
	if interval < time.Second {
		return fmt.Errorf("schedule %s: interval %s is below one second", name, interval)
	}
	return s.Add(fmt.Sprintf("@every %s", interval), name, fn)
}

func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) wrap(name string, fn func(ctx context.Context) error) func() {
	return func() {
		started := time.Now()
		if err := fn(s.ctx); err != nil {
			s.log.Error("job failed", "job", name, "err", err)
			return
		}
		s.log.Debug("job finished", "job", name, "took", time.Since(started))
	}
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
