// Package maintenance schedules the cache's background work: expired-entry
// sweeps, hot-key warming, metrics window rotation, and tag-set pruning.
// Jobs are plain methods, so anything the scheduler runs can also be invoked
// directly.
package maintenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/logging"
)

// Job is one schedulable unit of background work.
type Job func(ctx context.Context) error

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// JobTimeout bounds a single run of any job. Default: 5m
	JobTimeout time.Duration

	// Logger is the parent logger. Default: the process-global logger.
	Logger *logging.Logger
}

// DefaultRunnerConfig returns the default runner settings.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		JobTimeout: 5 * time.Minute,
	}
}

// Runner drives named jobs on cron schedules. Schedules use the standard
// five-field syntax or @every descriptors ("@every 1m"). Safe for concurrent
// use.
type Runner struct {
	cron    *cron.Cron
	logger  *logging.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// NewRunner creates a stopped Runner. Register jobs, then Start.
func NewRunner(config RunnerConfig) *Runner {
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultRunnerConfig().JobTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}

	return &Runner{
		cron:    cron.New(),
		logger:  logger.Named("maintenance"),
		timeout: config.JobTimeout,
		jobs:    make(map[string]cron.EntryID),
	}
}

// ValidateSchedule checks a cron expression or @every descriptor without
// registering anything.
func ValidateSchedule(schedule string) error {
	_, err := cron.ParseStandard(schedule)
	return err
}

// Register adds a named job on the given schedule. Names must be unique.
// Registering after Start is allowed; the job joins the live schedule.
func (r *Runner) Register(name, schedule string, job Job) error {
	if name == "" {
		return fmt.Errorf("maintenance: job name must not be empty")
	}
	if job == nil {
		return fmt.Errorf("maintenance: job %q is nil", name)
	}
	if err := ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("maintenance: job %q has invalid schedule %q: %w", name, schedule, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("maintenance: duplicate job %q", name)
	}

	id, err := r.cron.AddFunc(schedule, func() { r.run(name, job) })
	if err != nil {
		return fmt.Errorf("maintenance: job %q: %w", name, err)
	}
	r.jobs[name] = id

	r.logger.Info("job registered",
		zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

// run executes one scheduled invocation with the runner's timeout. A panic is
// recovered and logged so a broken job cannot kill the scheduler.
func (r *Runner) run(name string, job Job) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job panicked", zap.String("job", name), zap.Any("panic", p))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		r.logger.Warn("job failed",
			zap.String("job", name), zap.Duration("took", time.Since(start)), zap.Error(err))
		return
	}
	r.logger.Debug("job completed",
		zap.String("job", name), zap.Duration("took", time.Since(start)))
}

// Jobs returns the registered job names, sorted.
func (r *Runner) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins scheduling. Calling Start twice is a no-op.
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("maintenance runner started", zap.Int("jobs", len(r.Jobs())))
}

// Stop halts scheduling and waits for in-flight jobs to finish, bounded by
// ctx.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info("maintenance runner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
