package config

import (
	"reflect"
	"sort"
	"strings"

	logx "trendbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact sorted list of changed sections
// and (2) safe structured attrs for logging (never includes secrets like
// tokens or chat ids).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Bool("engine.enabled", newCfg.Engine.Enabled),
			logx.String("engine.timezone", strings.TrimSpace(newCfg.Engine.Timezone)),
			logx.String("engine.cycle", strings.TrimSpace(newCfg.Engine.Cycle)),
			logx.String("engine.sweep", strings.TrimSpace(newCfg.Engine.Sweep)),
			logx.String("engine.reconcile", strings.TrimSpace(newCfg.Engine.Reconcile)),
			logx.String("engine.ingest", strings.TrimSpace(newCfg.Engine.Ingest)),
			logx.String("engine.prune", strings.TrimSpace(newCfg.Engine.Prune)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scoring, newCfg.Scoring) {
		changed = append(changed, "scoring")
		attrs = append(attrs,
			logx.Float64("scoring.min_score", newCfg.Scoring.MinScore),
			logx.Int("scoring.min_observations", newCfg.Scoring.MinObservations),
			logx.String("scoring.freshness", strings.TrimSpace(newCfg.Scoring.Freshness)),
			logx.Int("scoring.category_count", len(newCfg.Scoring.CategoryWeights)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Bandit, newCfg.Bandit) {
		changed = append(changed, "bandit")
		epsSet := newCfg.Bandit.Epsilon != nil
		eps := 0.0
		if epsSet {
			eps = *newCfg.Bandit.Epsilon
		}
		attrs = append(attrs,
			logx.Bool("bandit.epsilon_set", epsSet),
			logx.Float64("bandit.epsilon", eps),
			logx.String("bandit.cooldown", strings.TrimSpace(newCfg.Bandit.Cooldown)),
			logx.Float64("bandit.confidence_z", newCfg.Bandit.ConfidenceZ),
		)
	}

	if !reflect.DeepEqual(oldCfg.Gate, newCfg.Gate) {
		changed = append(changed, "gate")
		attrs = append(attrs,
			logx.Int("gate.max_actions_per_day", newCfg.Gate.MaxActionsPerDay),
			logx.String("gate.min_spacing", strings.TrimSpace(newCfg.Gate.MinSpacing)),
			logx.Int("gate.retry_max", newCfg.Gate.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reconcile, newCfg.Reconcile) {
		changed = append(changed, "reconcile")
		attrs = append(attrs,
			logx.String("reconcile.min_age", strings.TrimSpace(newCfg.Reconcile.MinAge)),
			logx.Int("reconcile.batch", newCfg.Reconcile.Batch),
		)
	}

	diffEndpoint("trends", oldCfg.Trends, newCfg.Trends, &changed, &attrs)
	diffEndpoint("publisher", oldCfg.Publisher, newCfg.Publisher, &changed, &attrs)
	diffEndpoint("analytics", oldCfg.Analytics, newCfg.Analytics, &changed, &attrs)

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
			logx.String("storage.snapshot_retention", strings.TrimSpace(newCfg.Storage.SnapshotRetention)),
		)
	}

	// Alerts section may be nil (omitted). Treat nil as disabled defaults.
	oldA := oldCfg.Alerts
	newA := newCfg.Alerts
	if oldA == nil {
		oldA = &AlertsConfig{}
	}
	if newA == nil {
		newA = &AlertsConfig{}
	}
	if !reflect.DeepEqual(*oldA, *newA) {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.enabled", newA.Enabled),
			logx.Bool("alerts.token_set", strings.TrimSpace(newA.Token) != ""),
			logx.Bool("alerts.chat_id_set", newA.ChatID != 0),
			logx.Int("alerts.workers", newA.Workers),
			logx.Int("alerts.queue_size", newA.QueueSize),
			logx.Int("alerts.rate_per_sec", newA.RatePerSec),
			logx.Bool("alerts.persist_dedup", newA.PersistDedup),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pprof, newCfg.Pprof) {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// diffEndpoint appends a section diff for one HTTP collaborator (never logs the token).
func diffEndpoint(name string, o, n EndpointConfig, changed *[]string, attrs *[]logx.Field) {
	if reflect.DeepEqual(o, n) {
		return
	}
	*changed = append(*changed, name)
	*attrs = append(*attrs,
		logx.String(name+".base_url", strings.TrimSpace(n.BaseURL)),
		logx.Bool(name+".token_set", strings.TrimSpace(n.Token) != ""),
		logx.String(name+".timeout", strings.TrimSpace(n.Timeout)),
	)
}
