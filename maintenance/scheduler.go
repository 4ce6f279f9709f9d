// Package maintenance runs the periodic housekeeping of the engine on a cron
// schedule: degraded-mode evaluation, idempotency sweeps, request expiry and
// resumption of deferred requests.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-signatures/core"
)

const (
	JobEvaluateMode     = "evaluate_mode"
	JobSweepIdempotency = "sweep_idempotency"
	JobExpireOverdue    = "expire_overdue"
	JobResumeDeferred   = "resume_deferred"
)

type ModeEvaluator interface {
	Evaluate(ctx context.Context) core.DegradedStatus
}

type IdempotencySweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type RequestMaintainer interface {
	ExpireOverdue(ctx context.Context, limit int) (int, error)
	ResumeAllDeferred(ctx context.Context, limit int) (core.ResumeSummary, error)
}

type Config struct {
	EvaluateInterval time.Duration
	SweepInterval    time.Duration
	ExpireInterval   time.Duration
	ResumeInterval   time.Duration
	// BatchSize bounds each expire and resume pass.
	BatchSize  int
	JobTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		EvaluateInterval: 10 * time.Second,
		SweepInterval:    15 * time.Minute,
		ExpireInterval:   time.Minute,
		ResumeInterval:   30 * time.Second,
		BatchSize:        200,
		JobTimeout:       30 * time.Second,
	}
}

// ConfigFrom derives the schedule from engine configuration.
func ConfigFrom(cfg core.Config) Config {
	out := DefaultConfig()
	if cfg.Degraded.CheckInterval > 0 {
		out.EvaluateInterval = cfg.Degraded.CheckInterval
	}
	if cfg.Idempotency.SweepInterval > 0 {
		out.SweepInterval = cfg.Idempotency.SweepInterval
	}
	return out
}

type Dependencies struct {
	Mode      ModeEvaluator
	Sweeper   IdempotencySweeper
	Requests  RequestMaintainer
	Telemetry core.Telemetry
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// Scheduler owns a cron instance. Jobs that are still running when their next
// tick arrives are skipped, and panics are recovered and logged.
type Scheduler struct {
	cron      *cron.Cron
	config    Config
	telemetry core.Telemetry
	jobs      []job

	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
}

func NewScheduler(cfg Config, deps Dependencies) (*Scheduler, error) {
	if deps.Mode == nil && deps.Sweeper == nil && deps.Requests == nil {
		return nil, fmt.Errorf("maintenance: at least one job dependency is required")
	}
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaults.JobTimeout
	}

	logger := cronLogger{telemetry: deps.Telemetry}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		config:    cfg,
		telemetry: deps.Telemetry,
		entries:   map[string]cron.EntryID{},
	}

	if deps.Mode != nil {
		s.jobs = append(s.jobs, job{name: JobEvaluateMode, interval: cfg.EvaluateInterval, run: func(ctx context.Context) error {
			deps.Mode.Evaluate(ctx)
			return nil
		}})
	}
	if deps.Sweeper != nil {
		s.jobs = append(s.jobs, job{name: JobSweepIdempotency, interval: cfg.SweepInterval, run: func(ctx context.Context) error {
			removed, err := deps.Sweeper.Sweep(ctx)
			if err == nil && removed > 0 {
				s.telemetry.Counter(ctx, "maintenance.idempotency_swept", int64(removed), nil)
			}
			return err
		}})
	}
	if deps.Requests != nil {
		s.jobs = append(s.jobs,
			job{name: JobExpireOverdue, interval: cfg.ExpireInterval, run: func(ctx context.Context) error {
				_, err := deps.Requests.ExpireOverdue(ctx, cfg.BatchSize)
				return err
			}},
			job{name: JobResumeDeferred, interval: cfg.ResumeInterval, run: func(ctx context.Context) error {
				_, err := deps.Requests.ResumeAllDeferred(ctx, cfg.BatchSize)
				return err
			}},
		)
	}

	for _, j := range s.jobs {
		if j.interval <= 0 {
			continue
		}
		current := j
		id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", current.interval), func() {
			s.runJob(context.Background(), current)
		})
		if err != nil {
			return nil, fmt.Errorf("maintenance: schedule %s: %w", current.name, err)
		}
		s.entries[current.name] = id
	}
	return s, nil
}

// Scheduled lists the names of jobs with a cron entry.
func (s *Scheduler) Scheduled() []string {
	out := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		if _, ok := s.entries[j.name]; ok {
			out = append(out, j.name)
		}
	}
	return out
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs every job synchronously in registration order and returns the
// first error after all of them ran.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var first error
	for _, j := range s.jobs {
		if err := s.runJob(ctx, j); err != nil && first == nil {
			first = fmt.Errorf("maintenance: %s: %w", j.name, err)
		}
	}
	return first
}

func (s *Scheduler) runJob(ctx context.Context, j job) (err error) {
	startedAt := time.Now().UTC()
	runCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()
	defer func() {
		s.telemetry.ObserveOperation(runCtx, startedAt, "maintenance."+j.name, err, map[string]any{"job": j.name})
	}()
	return j.run(runCtx)
}

// cronLogger routes cron's own logging through engine telemetry.
type cronLogger struct {
	telemetry core.Telemetry
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.telemetry.Debug(context.Background(), "cron: "+msg, pairs(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := pairs(keysAndValues)
	if err != nil {
		fields["error"] = err.Error()
	}
	l.telemetry.Error(context.Background(), "cron: "+msg, fields)
}

func pairs(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

var _ cron.Logger = cronLogger{}
