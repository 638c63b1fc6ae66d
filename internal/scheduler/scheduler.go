// Package scheduler binds named tasks to cron schedules.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HourlySpec fires at the top of every hour. The cron parser includes a
// seconds field.
const HourlySpec = "0 0 * * * *"

// Task is a scheduled unit of work. Errors are logged, never fatal: a
// failed run defers its work to the next invocation.
type Task func(ctx context.Context) error

// Scheduler runs registered tasks on their cron schedules.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  zerolog.Logger
}

// New creates a Scheduler. ctx is passed to every task invocation and
// canceling it stops in-flight work.
func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		ctx:  ctx,
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Add registers a named task on a cron spec.
func (s *Scheduler) Add(name, spec string, task Task) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.log.Debug().Str("task", name).Msg("task started")
		if err := task(s.ctx); err != nil {
			s.log.Error().Str("task", name).Err(err).Msg("task failed")
			return
		}
		s.log.Debug().Str("task", name).Msg("task finished")
	})
	if err != nil {
		return fmt.Errorf("scheduler: add task %s with spec %q: %w", name, spec, err)
	}
	return nil
}

// Start begins dispatching in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop halts dispatching and waits for running tasks to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}
