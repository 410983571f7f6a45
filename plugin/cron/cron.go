// Package cron hosts named recurring jobs on top of robfig/cron. Registering
// a name that already exists replaces the previous job.
package cron

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// Job is a unit of scheduled work. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

type Scheduler struct {
	mu     sync.Mutex
	c      *cron.Cron
	parser cron.Parser
	jobs   map[string]cron.EntryID
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler evaluating specs in loc (UTC when nil). Panicking
// jobs are recovered and a job still running at its next tick is skipped.
func New(logger *slog.Logger, loc *time.Location) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	l := Logger{logger: logger}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		c: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(parser),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		parser: parser,
		jobs:   map[string]cron.EntryID{},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register schedules job under name, replacing any job with the same name.
func (s *Scheduler) Register(name, spec string, job Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return errors.Wrapf(err, "invalid schedule %q for job %s", spec, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.c.Remove(id)
		s.logger.Info("replacing scheduled job", "job", name)
	}
	id, err := s.c.AddFunc(spec, func() {
		start := time.Now()
		s.logger.Debug("scheduled job started", "job", name)
		job(s.ctx)
		s.logger.Info("scheduled job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return errors.Wrapf(err, "failed to schedule job %s", name)
	}
	s.jobs[name] = id
	return nil
}

// Remove unschedules name. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.c.Remove(id)
		delete(s.jobs, name)
	}
}

// Names lists registered jobs in name order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next returns the next activation of name, or zero when it is not scheduled
// or the scheduler has not started.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.c.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop stops scheduling and waits for running jobs. When ctx expires first
// the jobs' context is cancelled and ctx's error returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.c.Stop()
	defer s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logger adapts slog to the cron.Logger interface.
type Logger struct {
	logger *slog.Logger
}

func (l Logger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l Logger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
