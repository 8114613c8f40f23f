package maintenance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/asklokesh/NEXT-Portal-sub008/pkg/cache"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/logging"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/metrics"
	"github.com/asklokesh/NEXT-Portal-sub008/pkg/orchestrator"
)

// JobsConfig carries the stock jobs' schedules and sizing.
type JobsConfig struct {
	// SweepSchedule runs expired-entry cleanup across the whole chain.
	// Default: @every 1m
	SweepSchedule string

	// WarmSchedule re-populates memory tiers with the hottest keys.
	// Default: @every 5m
	WarmSchedule string

	// WarmCount is how many top keys one warming pass considers. Default: 100
	WarmCount int

	// RollupSchedule advances the registry's rolling window so it drains on
	// an idle cache. Default: @every 5s
	RollupSchedule string

	// TagPruneSchedule runs the dedicated tag-set pruning pass on the tiers
	// handed to NewJobs. Default: @every 1h
	TagPruneSchedule string
}

// DefaultJobsConfig returns the stock schedules.
func DefaultJobsConfig() JobsConfig {
	return JobsConfig{
		SweepSchedule:    "@every 1m",
		WarmSchedule:     "@every 5m",
		WarmCount:        100,
		RollupSchedule:   "@every 5s",
		TagPruneSchedule: "@every 1h",
	}
}

// Jobs holds the stock maintenance work for one orchestrator. Every job is an
// exported method, so callers can run one on demand instead of waiting for
// its schedule.
type Jobs struct {
	orch     *orchestrator.Orchestrator
	registry *metrics.Registry
	prune    []cache.Tier
	config   JobsConfig
	logger   *logging.Logger
}

// NewJobs builds the stock jobs. registry may be nil (no rollup job); the
// chain-wide sweep already reaches every tier's Cleanup, so pruneTiers names
// only the tiers that should get an extra slow pruning pass on top, typically
// the distributed tier with a large tag population.
func NewJobs(orch *orchestrator.Orchestrator, registry *metrics.Registry, config JobsConfig, pruneTiers ...cache.Tier) *Jobs {
	defaults := DefaultJobsConfig()
	if config.SweepSchedule == "" {
		config.SweepSchedule = defaults.SweepSchedule
	}
	if config.WarmSchedule == "" {
		config.WarmSchedule = defaults.WarmSchedule
	}
	if config.WarmCount <= 0 {
		config.WarmCount = defaults.WarmCount
	}
	if config.RollupSchedule == "" {
		config.RollupSchedule = defaults.RollupSchedule
	}
	if config.TagPruneSchedule == "" {
		config.TagPruneSchedule = defaults.TagPruneSchedule
	}

	return &Jobs{
		orch:     orch,
		registry: registry,
		prune:    pruneTiers,
		config:   config,
		logger:   logging.Global().Named("maintenance"),
	}
}

// Register binds the stock jobs to runner on their configured schedules. The
// rollup job is bound only when a registry is present, the tag-prune job only
// when prune tiers were given.
func (j *Jobs) Register(runner *Runner) error {
	if err := runner.Register("ttl-sweep", j.config.SweepSchedule, j.SweepExpired); err != nil {
		return err
	}
	if err := runner.Register("cache-warming", j.config.WarmSchedule, j.WarmHotKeys); err != nil {
		return err
	}
	if j.registry != nil {
		if err := runner.Register("metrics-rollup", j.config.RollupSchedule, j.RotateMetrics); err != nil {
			return err
		}
	}
	if len(j.prune) > 0 {
		if err := runner.Register("tag-prune", j.config.TagPruneSchedule, j.PruneTagSets); err != nil {
			return err
		}
	}
	return nil
}

// SweepExpired runs Cleanup across the whole tier chain.
func (j *Jobs) SweepExpired(ctx context.Context) error {
	n, err := j.orch.Sweep(ctx)
	if n > 0 {
		j.logger.Info("sweep removed entries", zap.Int("removed", n))
	}
	return err
}

// WarmHotKeys re-populates memory tiers with the hottest tracked keys.
func (j *Jobs) WarmHotKeys(ctx context.Context) error {
	n, err := j.orch.Warm(ctx, j.config.WarmCount)
	if n > 0 {
		j.logger.Debug("warming pass scheduled keys", zap.Int("warmed", n))
	}
	return err
}

// RotateMetrics advances the registry's rolling window.
func (j *Jobs) RotateMetrics(ctx context.Context) error {
	if j.registry != nil {
		j.registry.Rotate()
	}
	return nil
}

// PruneTagSets runs Cleanup on the dedicated prune tiers. Tiers that do not
// sweep are skipped.
func (j *Jobs) PruneTagSets(ctx context.Context) error {
	pruned := 0
	var firstErr error
	for _, tier := range j.prune {
		sw, ok := tier.(cache.Sweeper)
		if !ok {
			continue
		}
		n, err := sw.Cleanup(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", tier.Name(), err)
			}
			continue
		}
		pruned += n
	}
	if pruned > 0 {
		j.logger.Info("pruned dead tag references", zap.Int("pruned", pruned))
	}
	return firstErr
}

// ForOrchestrator builds a runner preloaded with the stock jobs on their
// default schedules. Start it after the tiers are up; Stop it before Close.
func ForOrchestrator(orch *orchestrator.Orchestrator, registry *metrics.Registry, pruneTiers ...cache.Tier) (*Runner, error) {
	jobs := NewJobs(orch, registry, DefaultJobsConfig(), pruneTiers...)
	runner := NewRunner(DefaultRunnerConfig())
	if err := jobs.Register(runner); err != nil {
		return nil, err
	}
	return runner, nil
}
