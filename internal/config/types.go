package config

// Config is the full on-disk configuration (YAML or JSON).
//
// All duration fields are Go duration strings (e.g. "500ms", "10s", "2h").
// Numeric fields left at zero fall back to documented defaults when the
// section is mapped into a service config; explicitly invalid values are a
// fatal startup error.
type Config struct {
	Engine    EngineConfig    `json:"engine"`
	Scoring   ScoringConfig   `json:"scoring"`
	Bandit    BanditConfig    `json:"bandit"`
	Gate      GateConfig      `json:"gate"`
	Reconcile ReconcileConfig `json:"reconcile"`

	// External collaborators (HTTP).
	Trends    EndpointConfig `json:"trends"`
	Publisher EndpointConfig `json:"publisher"`
	Analytics EndpointConfig `json:"analytics"`

	Storage StorageConfig `json:"storage"`
	Alerts  *AlertsConfig `json:"alerts,omitempty"`
	Logging LoggingConfig `json:"logging"`
	Pprof   PprofConfig   `json:"pprof,omitempty"`
}

// EngineConfig controls the decision loop cadences.
//
// Schedule specs accept cron ("*/5 * * * *", "@hourly"), "@every 15m",
// "interval:15m", HH:MM ("02:30" = every 2h30m) or a bare Go duration.
//
// Defaults (when fields are omitted/empty):
//   - cycle: "interval:15m"
//   - sweep: "interval:5m"
//   - reconcile: "interval:30m"
//   - ingest: "interval:10m"
//   - prune: "@daily"
//   - queue_size: 16
type EngineConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"

	Cycle     string `json:"cycle,omitempty"`
	Sweep     string `json:"sweep,omitempty"`
	Reconcile string `json:"reconcile,omitempty"`
	Ingest    string `json:"ingest,omitempty"`
	Prune     string `json:"prune,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`
}

// ScoringConfig controls the composite candidate score.
//
// The three term weights must be >= 0 and sum to > 0. All-zero means
// "use defaults" (0.5 growth / 0.3 volume / 0.2 category).
type ScoringConfig struct {
	// MinObservations marks candidates with fewer snapshots low-confidence.
	// They are still scored and eligible. Default 3.
	MinObservations int `json:"min_observations,omitempty"`

	// MinScore excludes candidates below this composite score from
	// selection. 0 disables the threshold. Range [0,1).
	MinScore float64 `json:"min_score,omitempty"`

	// Freshness excludes candidates whose newest snapshot is older than
	// this. Default "2h".
	Freshness string `json:"freshness,omitempty"`

	GrowthWeight   float64 `json:"growth_weight,omitempty"`
	VolumeWeight   float64 `json:"volume_weight,omitempty"`
	CategoryWeight float64 `json:"category_weight,omitempty"`

	// GrowthRef is the growth rate that maps to a full growth term. Default 1.0.
	GrowthRef float64 `json:"growth_ref,omitempty"`
	// VolumeCeiling is the volume that maps to a full volume term (log scale).
	// Default 1000000.
	VolumeCeiling int64 `json:"volume_ceiling,omitempty"`

	// CategoryWeights must include a "general" entry (the fallback for
	// unknown categories). Omitted means the built-in map.
	CategoryWeights map[string]float64 `json:"category_weights,omitempty"`
}

// BanditConfig controls the selection policy.
type BanditConfig struct {
	// Epsilon is the exploration probability in [0,1]. A pointer so an
	// explicit 0 (pure exploitation) is distinguishable from "omitted"
	// (default 0.1).
	Epsilon *float64 `json:"epsilon,omitempty"`

	// Cooldown excludes recently selected arms from exploitation.
	// "0s" (default) disables the cool-down.
	Cooldown string `json:"cooldown,omitempty"`

	// ConfidenceZ scales the per-arm confidence bound (z/sqrt(n)). Default 1.96.
	ConfidenceZ float64 `json:"confidence_z,omitempty"`
}

// GateConfig controls the compliance constraints and the retry policy.
//
// Defaults: max_actions_per_day 2, min_spacing "2h", attempt_timeout "60s",
// retry_max 3, retry_base "4s", retry_max_delay "10m".
type GateConfig struct {
	// MaxActionsPerDay caps succeeded actions in any rolling 24h window.
	// Range [1,50].
	MaxActionsPerDay int `json:"max_actions_per_day,omitempty"`

	// MinSpacing is the minimum gap since the last succeeded action.
	MinSpacing string `json:"min_spacing,omitempty"`

	// AttemptTimeout bounds a single publish call.
	AttemptTimeout string `json:"attempt_timeout,omitempty"`

	// RetryMax is the total attempt cap for transient failures. Range [1,10].
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// ReconcileConfig controls the reward sweep.
//
// The three reward weights must sum to exactly 100 so rewards stay
// comparable across cycles. All-zero means the defaults (50/30/20).
type ReconcileConfig struct {
	// MinAge is how long after a success metrics are considered settled
	// enough to fetch. Default "2h".
	MinAge string `json:"min_age,omitempty"`

	// Batch caps decisions reconciled per sweep. Range [1,500], default 50.
	Batch int `json:"batch,omitempty"`

	VolumeWeight     float64 `json:"volume_weight,omitempty"`
	EngagementWeight float64 `json:"engagement_weight,omitempty"`
	ConversionWeight float64 `json:"conversion_weight,omitempty"`

	// VolumeUnit is views per reward point (default 1000).
	VolumeUnit int64 `json:"volume_unit,omitempty"`
	// EngagementUnit is weighted engagement points per reward point (default 100).
	EngagementUnit int64 `json:"engagement_unit,omitempty"`
}

// EndpointConfig describes one external HTTP collaborator.
type EndpointConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"` // bearer token (do not log)
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls the sqlite persistence layer.
//
// Storage is not optional: the decision log is the source of truth for the
// compliance window, so the engine refuses to start without it.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // default "5s"

	// SnapshotRetention prunes candidate snapshots older than this.
	// Default "168h" (7 days). Decisions and actions are never pruned.
	SnapshotRetention string `json:"snapshot_retention,omitempty"`
}

// AlertsConfig controls the operator alert pipeline (Telegram).
type AlertsConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"` // bot token (do not log)
	ChatID  int64  `json:"chat_id,omitempty"`

	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors WARN+ log lines to the alerts chat.
// Requires alerts.token and alerts.chat_id to be set.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// PprofConfig controls the optional pprof HTTP server.
// The server only binds loopback addresses.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:6060"

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
