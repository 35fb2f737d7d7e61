// Package scheduler handles time-based job scheduling on top of
// robfig/cron. Jobs run on a cron expression or a plain interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aybkose/questline/internal/logging"
)

// ErrNotRunning is returned by Stop when the scheduler was never started.
var ErrNotRunning = errors.New("scheduler not running")

// Job is a unit of scheduled work. Errors are logged, not fatal.
type Job func(ctx context.Context) error

// Config selects the cadence: a cron expression, or an interval when the
// expression is empty.
type Config struct {
	Cron     string
	Interval time.Duration
}

// Scheduler runs registered jobs on a shared cadence.
type Scheduler struct {
	mu      sync.Mutex
	spec    string
	jobs    []Job
	cron    *cron.Cron
	running bool
	logger  *logging.Logger
}

// NewFromConfig builds a scheduler from config. Exactly one of Cron or
// Interval must be set.
func NewFromConfig(cfg Config) (*Scheduler, error) {
	spec := cfg.Cron
	if spec == "" {
		if cfg.Interval <= 0 {
			return nil, errors.New("scheduler: no cron expression or interval configured")
		}
		spec = fmt.Sprintf("@every %s", cfg.Interval)
	}

	// Validate the spec up front so misconfiguration fails at startup.
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("scheduler: invalid spec %q: %w", spec, err)
	}

	return &Scheduler{
		spec:   spec,
		logger: logging.Component("scheduler"),
	}, nil
}

// AddJob registers a job. Must be called before Start.
func (s *Scheduler) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start begins running jobs on the configured cadence. The context bounds
// each job execution.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}

	s.cron = cron.New()
	for _, job := range s.jobs {
		job := job
		if _, err := s.cron.AddFunc(s.spec, func() {
			if ctx.Err() != nil {
				return
			}
			if err := job(ctx); err != nil {
				s.logger.Errorf("scheduled job: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("scheduler: add job: %w", err)
		}
	}

	s.cron.Start()
	s.running = true
	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}

	<-s.cron.Stop().Done()
	s.running = false
	return nil
}

// NextRun returns the earliest upcoming run time, or zero when not
// running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return time.Time{}
	}

	var next time.Time
	for _, entry := range s.cron.Entries() {
		if next.IsZero() || entry.Next.Before(next) {
			next = entry.Next
		}
	}
	return next
}
