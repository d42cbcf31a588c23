package app

import (
	"fmt"
	"strings"

	"trendbot/internal/bandit"
	"trendbot/internal/config"
	"trendbot/internal/engine"
	"trendbot/internal/gate"
	"trendbot/internal/platform"
	"trendbot/internal/reconcile"
	"trendbot/internal/schedule"
	"trendbot/internal/scoring"
)

// defaultEpsilon applies when bandit.epsilon is omitted. An explicit 0 is
// honored (pure exploitation), which is why the config field is a pointer.
const defaultEpsilon = bandit.DefaultEpsilon

func mapScoringConfig(cfg *Config) scoring.Config {
	sc := cfg.Scoring
	return scoring.Config{
		MinObservations: sc.MinObservations,
		MinScore:        sc.MinScore,
		GrowthWeight:    sc.GrowthWeight,
		VolumeWeight:    sc.VolumeWeight,
		CategoryWeight:  sc.CategoryWeight,
		GrowthRef:       sc.GrowthRef,
		VolumeCeiling:   sc.VolumeCeiling,
		CategoryWeights: sc.CategoryWeights,
	}
}

func mapBanditConfig(cfg *Config) (bandit.Config, error) {
	bc := cfg.Bandit
	eps := defaultEpsilon
	if bc.Epsilon != nil {
		eps = *bc.Epsilon
	}
	cooldown, err := parseDurationField("bandit.cooldown", bc.Cooldown)
	if err != nil {
		return bandit.Config{}, err
	}
	return bandit.Config{
		Epsilon:     eps,
		Cooldown:    cooldown,
		ConfidenceZ: bc.ConfidenceZ,
	}, nil
}

func mapGateConfig(cfg *Config) (gate.Config, error) {
	gc := cfg.Gate
	minSpacing, err := parseDurationField("gate.min_spacing", gc.MinSpacing)
	if err != nil {
		return gate.Config{}, err
	}
	attemptTimeout, err := parseDurationField("gate.attempt_timeout", gc.AttemptTimeout)
	if err != nil {
		return gate.Config{}, err
	}
	retryBase, err := parseDurationField("gate.retry_base", gc.RetryBase)
	if err != nil {
		return gate.Config{}, err
	}
	retryMaxDelay, err := parseDurationField("gate.retry_max_delay", gc.RetryMaxDelay)
	if err != nil {
		return gate.Config{}, err
	}
	return gate.Config{
		MaxActionsPerDay: gc.MaxActionsPerDay,
		MinSpacing:       minSpacing,
		AttemptTimeout:   attemptTimeout,
		RetryMax:         gc.RetryMax,
		RetryBase:        retryBase,
		RetryMaxDelay:    retryMaxDelay,
	}, nil
}

func mapReconcileConfig(cfg *Config) (reconcile.Config, error) {
	rc := cfg.Reconcile
	minAge, err := parseDurationField("reconcile.min_age", rc.MinAge)
	if err != nil {
		return reconcile.Config{}, err
	}
	return reconcile.Config{
		MinAge:           minAge,
		Batch:            rc.Batch,
		VolumeWeight:     rc.VolumeWeight,
		EngagementWeight: rc.EngagementWeight,
		ConversionWeight: rc.ConversionWeight,
		VolumeUnit:       float64(rc.VolumeUnit),
		EngagementUnit:   float64(rc.EngagementUnit),
	}, nil
}

// mapEngineConfig gathers the engine knobs that live in other sections:
// eligibility comes from scoring, retention from storage.
func mapEngineConfig(cfg *Config) (engine.Config, error) {
	freshness, err := parseDurationField("scoring.freshness", cfg.Scoring.Freshness)
	if err != nil {
		return engine.Config{}, err
	}
	retention, err := parseDurationField("storage.snapshot_retention", cfg.Storage.SnapshotRetention)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:           cfg.Engine.Enabled,
		Freshness:         freshness,
		MinScore:          cfg.Scoring.MinScore,
		SnapshotRetention: retention,
		QueueSize:         cfg.Engine.QueueSize,
	}, nil
}

func mapScheduleConfig(cfg *Config) schedule.Config {
	return schedule.Config{
		Enabled:  cfg.Engine.Enabled,
		Timezone: cfg.Engine.Timezone,
	}
}

func mapEndpoint(name string, ep config.EndpointConfig) (platform.Endpoint, error) {
	timeout, err := parseDurationField(name+".timeout", ep.Timeout)
	if err != nil {
		return platform.Endpoint{}, err
	}
	return platform.Endpoint{
		BaseURL: ep.BaseURL,
		Token:   ep.Token,
		Timeout: timeout,
	}, nil
}

// cadence binds one engine op to its schedule spec. The name doubles as the
// config field path so rejected specs point at the right line.
type cadence struct {
	name string
	spec string
	op   engine.Op
}

// cadences returns the five engine cadences with documented defaults filled
// in for empty spec fields.
func cadences(e config.EngineConfig) []cadence {
	return []cadence{
		{"engine.cycle", specOr(e.Cycle, "interval:15m"), engine.OpCycle},
		{"engine.sweep", specOr(e.Sweep, "interval:5m"), engine.OpSweep},
		{"engine.reconcile", specOr(e.Reconcile, "interval:30m"), engine.OpReconcile},
		{"engine.ingest", specOr(e.Ingest, "interval:10m"), engine.OpIngest},
		{"engine.prune", specOr(e.Prune, "@daily"), engine.OpPrune},
	}
}

func specOr(spec, def string) string {
	if s := strings.TrimSpace(spec); s != "" {
		return s
	}
	return def
}

// registerCadences upserts the engine cadences on the scheduler. Each trigger
// is a non-blocking hand-off into the engine's op queue.
func (a *App) registerCadences(e config.EngineConfig) error {
	for _, c := range cadences(e) {
		op := c.op
		if err := a.sched.AddTrigger(c.name, c.spec, func() error {
			return a.engine.Trigger(op)
		}); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// validateCadences rejects unparseable schedule specs; the static validator
// leaves spec syntax to the registration path, so the reload hook calls this.
func validateCadences(e config.EngineConfig) error {
	for _, c := range cadences(e) {
		if _, err := schedule.ParseSpec(c.spec); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}
