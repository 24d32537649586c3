// Package scheduler runs a job on a cron schedule, skipping ticks that
// arrive while the previous run is still going.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is the work done on each tick
type Job func(ctx context.Context) error

// Scheduler triggers a Job on a standard five-field cron spec or a
// descriptor such as "@hourly" or "@every 30m"
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	job      Job
	logger   zerolog.Logger

	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
}

// New parses spec and returns a scheduler for job
func New(spec string, job Job, logger zerolog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{
		spec:     spec,
		schedule: schedule,
		job:      job,
		logger:   logger.With().Str("schedule", spec).Logger(),
	}, nil
}

// Next returns the first activation after t
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx is done, running the job on every tick. The job
// receives ctx, so cancellation also stops a run in progress; Run waits for
// it to return.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.tick(ctx) }))

	c.Start()
	s.logger.Info().Time("next_run", s.Next(time.Now())).Msg("scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info().Int64("runs", s.runs.Load()).Int64("skipped", s.skipped.Load()).Msg("scheduler stopped")
	return nil
}

// tick runs the job unless a previous run is still active. It reports
// whether the job ran.
func (s *Scheduler) tick(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warn().Msg("previous run still active, skipping tick")
		return false
	}
	defer s.running.Store(false)

	s.runs.Add(1)
	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("scheduled run failed")
		return true
	}
	s.logger.Info().Dur("elapsed", time.Since(start)).Time("next_run", s.Next(time.Now())).Msg("scheduled run finished")
	return true
}

// Runs returns how many ticks started the job
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Skipped returns how many ticks were dropped because a run was active
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
