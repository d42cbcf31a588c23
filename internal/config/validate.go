package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// weightSumTolerance absorbs float noise when checking the reward weight sum.
const weightSumTolerance = 1e-9

// Validate checks documented ranges without applying defaults.
//
// Convention: a zero/empty value means "use the default", so checks reject
// only explicitly invalid settings. Invalid config is fatal at startup;
// a reload that fails validation is rejected and the running config stays
// active. Schedule spec syntax (engine.cycle etc.) is validated where the
// schedules are registered, not here.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if err := validateEngine(&cfg.Engine); err != nil {
		return err
	}
	if err := validateScoring(&cfg.Scoring); err != nil {
		return err
	}
	if err := validateBandit(&cfg.Bandit); err != nil {
		return err
	}
	if err := validateGate(&cfg.Gate); err != nil {
		return err
	}
	if err := validateReconcile(&cfg.Reconcile); err != nil {
		return err
	}
	if err := validateEndpoint("trends", &cfg.Trends, cfg.Engine.Enabled); err != nil {
		return err
	}
	if err := validateEndpoint("publisher", &cfg.Publisher, cfg.Engine.Enabled); err != nil {
		return err
	}
	if err := validateEndpoint("analytics", &cfg.Analytics, cfg.Engine.Enabled); err != nil {
		return err
	}
	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := validateAlerts(cfg.Alerts); err != nil {
		return err
	}
	if err := validateLogging(&cfg.Logging); err != nil {
		return err
	}
	return validatePprof(&cfg.Pprof)
}

func validateEngine(c *EngineConfig) error {
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("engine.timezone: unknown location %q: %w", tz, err)
		}
	}
	if c.QueueSize != 0 && (c.QueueSize < 1 || c.QueueSize > 1024) {
		return fmt.Errorf("engine.queue_size: must be in [1,1024], got %d", c.QueueSize)
	}
	return nil
}

func validateScoring(c *ScoringConfig) error {
	if c.MinObservations < 0 {
		return fmt.Errorf("scoring.min_observations: must be >= 1, got %d", c.MinObservations)
	}
	if c.MinScore < 0 || c.MinScore >= 1 {
		return fmt.Errorf("scoring.min_score: must be in [0,1), got %v", c.MinScore)
	}
	if err := strictlyPositive("scoring.freshness", c.Freshness); err != nil {
		return err
	}
	for path, w := range map[string]float64{
		"scoring.growth_weight":   c.GrowthWeight,
		"scoring.volume_weight":   c.VolumeWeight,
		"scoring.category_weight": c.CategoryWeight,
	} {
		if w < 0 {
			return fmt.Errorf("%s: must be >= 0, got %v", path, w)
		}
	}
	if c.GrowthRef < 0 {
		return fmt.Errorf("scoring.growth_ref: must be > 0, got %v", c.GrowthRef)
	}
	if c.VolumeCeiling != 0 && c.VolumeCeiling < 1000 {
		return fmt.Errorf("scoring.volume_ceiling: must be >= 1000, got %d", c.VolumeCeiling)
	}
	if len(c.CategoryWeights) > 0 {
		for cat, w := range c.CategoryWeights {
			if w <= 0 {
				return fmt.Errorf("scoring.category_weights[%s]: must be > 0, got %v", cat, w)
			}
		}
		if _, ok := c.CategoryWeights["general"]; !ok {
			return fmt.Errorf("scoring.category_weights: missing required \"general\" entry")
		}
	}
	return nil
}

func validateBandit(c *BanditConfig) error {
	if c.Epsilon != nil {
		if e := *c.Epsilon; e < 0 || e > 1 {
			return fmt.Errorf("bandit.epsilon: must be in [0,1], got %v", e)
		}
	}
	if _, err := ParseDurationField("bandit.cooldown", c.Cooldown); err != nil {
		return err
	}
	if c.ConfidenceZ < 0 {
		return fmt.Errorf("bandit.confidence_z: must be > 0, got %v", c.ConfidenceZ)
	}
	return nil
}

func validateGate(c *GateConfig) error {
	if c.MaxActionsPerDay != 0 && (c.MaxActionsPerDay < 1 || c.MaxActionsPerDay > 50) {
		return fmt.Errorf("gate.max_actions_per_day: must be in [1,50], got %d", c.MaxActionsPerDay)
	}
	if err := strictlyPositive("gate.min_spacing", c.MinSpacing); err != nil {
		return err
	}
	if err := strictlyPositive("gate.attempt_timeout", c.AttemptTimeout); err != nil {
		return err
	}
	if c.RetryMax != 0 && (c.RetryMax < 1 || c.RetryMax > 10) {
		return fmt.Errorf("gate.retry_max: must be in [1,10], got %d", c.RetryMax)
	}
	return validateRetryPair("gate", c.RetryBase, c.RetryMaxDelay)
}

func validateReconcile(c *ReconcileConfig) error {
	if err := strictlyPositive("reconcile.min_age", c.MinAge); err != nil {
		return err
	}
	if c.Batch != 0 && (c.Batch < 1 || c.Batch > 500) {
		return fmt.Errorf("reconcile.batch: must be in [1,500], got %d", c.Batch)
	}
	for path, w := range map[string]float64{
		"reconcile.volume_weight":     c.VolumeWeight,
		"reconcile.engagement_weight": c.EngagementWeight,
		"reconcile.conversion_weight": c.ConversionWeight,
	} {
		if w < 0 {
			return fmt.Errorf("%s: must be >= 0, got %v", path, w)
		}
	}
	// All-zero means defaults; anything else must sum to exactly 100 so
	// rewards stay on a comparable scale across config edits.
	sum := c.VolumeWeight + c.EngagementWeight + c.ConversionWeight
	if sum != 0 && math.Abs(sum-100) > weightSumTolerance {
		return fmt.Errorf("reconcile: volume_weight+engagement_weight+conversion_weight must sum to 100, got %v", sum)
	}
	if c.VolumeUnit < 0 {
		return fmt.Errorf("reconcile.volume_unit: must be >= 1, got %d", c.VolumeUnit)
	}
	if c.EngagementUnit < 0 {
		return fmt.Errorf("reconcile.engagement_unit: must be >= 1, got %d", c.EngagementUnit)
	}
	return nil
}

func validateEndpoint(name string, c *EndpointConfig, required bool) error {
	if required && strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%s.base_url: required while engine.enabled is true", name)
	}
	_, err := ParseDurationField(name+".timeout", c.Timeout)
	return err
}

func validateStorage(c *StorageConfig) error {
	// The durable action log is the source of truth for the compliance
	// window, so storage is never optional.
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("storage.path: required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.BusyTimeout); err != nil {
		return err
	}
	return strictlyPositive("storage.snapshot_retention", c.SnapshotRetention)
}

func validateAlerts(c *AlertsConfig) error {
	if c == nil || !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("alerts.token: required while alerts.enabled is true")
	}
	if c.ChatID == 0 {
		return fmt.Errorf("alerts.chat_id: required while alerts.enabled is true")
	}
	if c.Workers < 0 {
		return fmt.Errorf("alerts.workers: must be >= 1, got %d", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("alerts.queue_size: must be >= 1, got %d", c.QueueSize)
	}
	if c.RatePerSec < 0 {
		return fmt.Errorf("alerts.rate_per_sec: must be >= 0, got %d", c.RatePerSec)
	}
	if c.RetryMax != 0 && (c.RetryMax < 1 || c.RetryMax > 10) {
		return fmt.Errorf("alerts.retry_max: must be in [1,10], got %d", c.RetryMax)
	}
	if err := validateRetryPair("alerts", c.RetryBase, c.RetryMaxDelay); err != nil {
		return err
	}
	if _, err := ParseDurationField("alerts.dedup_window", c.DedupWindow); err != nil {
		return err
	}
	if c.DedupMaxEntries < 0 {
		return fmt.Errorf("alerts.dedup_max_entries: must be >= 0, got %d", c.DedupMaxEntries)
	}
	return nil
}

func validateLogging(c *LoggingConfig) error {
	if !validLevel(c.Level) {
		return fmt.Errorf("logging.level: unknown level %q", c.Level)
	}
	if !validLevel(c.Telegram.MinLevel) {
		return fmt.Errorf("logging.telegram.min_level: unknown level %q", c.Telegram.MinLevel)
	}
	if c.Telegram.RatePerSec < 0 {
		return fmt.Errorf("logging.telegram.rate_per_sec: must be >= 0, got %d", c.Telegram.RatePerSec)
	}
	return nil
}

func validatePprof(c *PprofConfig) error {
	for path, raw := range map[string]string{
		"pprof.read_timeout":  c.ReadTimeout,
		"pprof.write_timeout": c.WriteTimeout,
		"pprof.idle_timeout":  c.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

// strictlyPositive rejects an explicit zero duration; empty still means default.
func strictlyPositive(path, raw string) error {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(raw) != "" && d == 0 {
		return fmt.Errorf("%s: must be > 0", path)
	}
	return nil
}

// validateRetryPair checks that an explicit max delay is not below an
// explicit base delay. Defaults are applied by the consuming service, so
// the cross-check only fires when both fields are set.
func validateRetryPair(section, base, maxDelay string) error {
	b, err := ParseDurationField(section+".retry_base", base)
	if err != nil {
		return err
	}
	m, err := ParseDurationField(section+".retry_max_delay", maxDelay)
	if err != nil {
		return err
	}
	if b > 0 && m > 0 && m < b {
		return fmt.Errorf("%s.retry_max_delay: must be >= %s.retry_base", section, section)
	}
	return nil
}

func validLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
