package alert

import "time"

// Config controls the async operator alert pipeline.
type Config struct {
	Enabled         bool
	ChatID          int64
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

type HistoryItem struct {
	At       time.Time
	Priority int
	Text     string
}

// AlertEvent is emitted on the event bus for alert lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type AlertEvent struct {
	Priority int       `json:"priority"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
