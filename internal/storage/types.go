package storage

import (
	"errors"
	"time"
)

// ErrClosed is returned by operations on a nil or closed store.
var ErrClosed = errors.New("storage closed")

// ErrConstraintViolation is returned by writes that would break a storage
// invariant: rewriting a terminal action or updating a row that does not
// exist. Write-once fields (a decision's actual_reward) report a no-op
// instead, see FoldReward.
var ErrConstraintViolation = errors.New("storage constraint violation")

// Config configures the sqlite persistence layer.
//
// Storage is mandatory: the action log is the durable source of truth for
// the compliance constraints, so there is no "disabled" mode.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}

// Candidate is one tracked topic.
//
// LastScore/LastScoredAt hold the newest composite score persisted by the
// decision cycle; a zero LastScoredAt means the candidate was never scored.
type Candidate struct {
	ID        string
	Topic     string
	Category  string
	FirstSeen time.Time
	LastSeen  time.Time

	LastScore    float64
	LastScoredAt time.Time
}

// Snapshot is one observation of a candidate's metrics.
type Snapshot struct {
	CandidateID string
	CapturedAt  time.Time
	Volume      int64
	Growth      float64
}

// CandidateState is a candidate joined with its newest snapshot plus the
// total observation count. Candidates without any snapshot are excluded
// (nothing to score).
type CandidateState struct {
	Candidate
	Latest       Snapshot
	Observations int
}

// Arm is the per-candidate reward statistics row.
//
// Invariant: AverageReward == CumulativeReward / max(SelectionCount, 1).
// SelectionCount advances only when a realized reward is folded in, so an
// arm that was selected but not yet reconciled still reports its prior
// average.
type Arm struct {
	CandidateID      string
	SelectionCount   int64
	CumulativeReward float64
	AverageReward    float64
	LastSelected     time.Time // zero if never selected
}

// Decision records one selection with the evidence it was based on.
// ActualReward stays nil until the outcome is reconciled; RewardAt is
// stamped by the same fold.
type Decision struct {
	ID           string
	CandidateID  string
	DecidedAt    time.Time
	Mode         string // "explore" or "exploit"
	Score        float64
	Estimate     float64
	Epsilon      float64
	ActualReward *float64
	RewardAt     time.Time
}

// Decision modes.
const (
	ModeExplore = "explore"
	ModeExploit = "exploit"
)

// ActionStatus is the action lifecycle state. Transitions are monotone:
// succeeded and failed are terminal.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionDeferred  ActionStatus = "deferred"
	ActionSucceeded ActionStatus = "succeeded"
	ActionFailed    ActionStatus = "failed"
)

// Action is one publish attempt record.
//
// NextAttemptAt (zero = none scheduled) drives both deferred re-checks and
// pending retry waits. ExecutedAt is set only on success and anchors the
// rolling compliance window.
type Action struct {
	ID            string
	DecisionID    string
	CandidateID   string
	Status        ActionStatus
	DecidedAt     time.Time
	Attempts      int
	NextAttemptAt time.Time
	ExecutedAt    time.Time
	ContentID     string
	LastError     string
	UpdatedAt     time.Time
}

// ReconcileItem is a succeeded action whose decision still lacks a realized
// reward.
type ReconcileItem struct {
	DecisionID  string
	CandidateID string
	ContentID   string
	ExecutedAt  time.Time
}

// AuditEntry records one engine event for the operator journal.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time
	Component string
	Event     string
	Ref       string // candidate/decision/action id, optional
	Detail    string // optional JSON payload
	Err       string
	TookMS    int64
}

// Stats is a coarse row-count summary used by runtime snapshots.
type Stats struct {
	Candidates   int64 `json:"candidates"`
	Snapshots    int64 `json:"snapshots"`
	Arms         int64 `json:"arms"`
	Decisions    int64 `json:"decisions"`
	Unreconciled int64 `json:"unreconciled"`
	Pending      int64 `json:"pending"`
	Deferred     int64 `json:"deferred"`
	Succeeded    int64 `json:"succeeded"`
	Failed       int64 `json:"failed"`
}
