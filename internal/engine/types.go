package engine

import (
	"time"
)

// Op identifies one kind of engine work. Writer ops (cycle, sweep, ingest,
// prune) run strictly serially on one worker; reconcile runs on its own
// worker because it only touches reward fields behind transactional updates.
type Op string

const (
	OpCycle     Op = "cycle"
	OpSweep     Op = "sweep"
	OpIngest    Op = "ingest"
	OpPrune     Op = "prune"
	OpReconcile Op = "reconcile"
)

// Config controls the decision engine.
//
// Freshness and MinScore are eligibility knobs for the decision cycle;
// SnapshotRetention bounds the prune op. The app layer maps the scoring and
// storage config sections into this struct.
type Config struct {
	Enabled bool

	// Freshness excludes candidates whose newest snapshot is older than
	// this from the cycle. 0 means the default (2h).
	Freshness time.Duration

	// MinScore is the eligibility threshold applied after scoring.
	MinScore float64

	// SnapshotRetention is how long pruned history is kept. 0 means the
	// default (168h).
	SnapshotRetention time.Duration

	// QueueSize is the trigger queue capacity. Coalescing keeps at most one
	// entry per op queued, so this rarely matters; 0 means 16.
	QueueSize int
}

func (c Config) normalized() Config {
	out := c
	if out.Freshness <= 0 {
		out.Freshness = 2 * time.Hour
	}
	if out.MinScore < 0 {
		out.MinScore = 0
	}
	if out.SnapshotRetention <= 0 {
		out.SnapshotRetention = 168 * time.Hour
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 16
	}
	return out
}

// DecisionEvent is the bus payload for "decision.made".
type DecisionEvent struct {
	DecisionID  string  `json:"decision_id"`
	CandidateID string  `json:"candidate_id"`
	Topic       string  `json:"topic"`
	Category    string  `json:"category,omitempty"`
	Mode        string  `json:"mode"`
	Score       float64 `json:"score"`
	Estimate    float64 `json:"estimate"`
	Epsilon     float64 `json:"epsilon"`
}

// SkipEvent is the bus payload for "decision.skipped".
type SkipEvent struct {
	Reason   string `json:"reason"`
	Scored   int    `json:"scored"`
	Eligible int    `json:"eligible"`
}

// OpEvent is the bus payload for "engine.<op>" completion events.
type OpEvent struct {
	Op     string `json:"op"`
	TookMS int64  `json:"took_ms"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OpStats is the per-op run record carried by Snapshot.
type OpStats struct {
	Runs     uint64        `json:"runs"`
	Errors   uint64        `json:"errors"`
	LastAt   time.Time     `json:"last_at"`
	LastTook time.Duration `json:"last_took"`
	LastErr  string        `json:"last_err,omitempty"`
}

// Snapshot is a point-in-time view of the engine for operators and tests.
type Snapshot struct {
	Enabled           bool           `json:"enabled"`
	Running           bool           `json:"running"`
	WriterQueueLen    int            `json:"writer_queue_len"`
	WriterQueueCap    int            `json:"writer_queue_cap"`
	ReconcileQueueLen int            `json:"reconcile_queue_len"`
	ReconcileQueueCap int            `json:"reconcile_queue_cap"`
	Ops               map[Op]OpStats `json:"ops,omitempty"`
}
