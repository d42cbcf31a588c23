// Package trend turns raw trending-topic observations into stored
// candidates and metric snapshots.
package trend

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"trendbot/internal/storage"
	logx "trendbot/pkg/logx"

	"github.com/google/uuid"
)

// Observation is one trending topic as reported by the trends endpoint.
type Observation struct {
	Topic    string
	Category string
	Volume   int64
	Growth   float64
	SeenAt   time.Time
}

// ValidationError explains why an observation was rejected.
type ValidationError struct {
	Topic  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("observation %q: %s %s", e.Topic, e.Field, e.Reason)
}

// Report summarizes one ingest run.
type Report struct {
	Ingested int
	Skipped  int
}

// candidateNamespace makes candidate ids deterministic: the same topic
// always maps to the same candidate, so history accumulates across runs.
var candidateNamespace = uuid.MustParse("8c9e9a6e-5b3f-4a0e-9f2d-6c4f2f6a1b7d")

// CandidateID returns the stable id for a topic.
func CandidateID(topic string) string {
	norm := strings.ToLower(strings.TrimSpace(topic))
	return uuid.NewSHA1(candidateNamespace, []byte(norm)).String()
}

// Ingestor validates observations and persists them.
type Ingestor struct {
	store *storage.Store
	log   logx.Logger
	now   func() time.Time
}

func NewIngestor(store *storage.Store, log logx.Logger) *Ingestor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ingestor{store: store, log: log, now: time.Now}
}

// Ingest upserts each valid observation as a candidate plus one snapshot and
// makes sure its arm row exists. Invalid observations are skipped and
// logged; one bad topic never aborts the batch.
func (in *Ingestor) Ingest(ctx context.Context, obs []Observation) (Report, error) {
	var rep Report
	for _, o := range obs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if verr := validate(o); verr != nil {
			rep.Skipped++
			in.log.Warn("observation rejected",
				logx.String("topic", o.Topic),
				logx.String("field", verr.Field),
				logx.String("reason", verr.Reason),
			)
			continue
		}

		seen := o.SeenAt
		if seen.IsZero() {
			seen = in.now()
		}
		id := CandidateID(o.Topic)
		cand := storage.Candidate{
			ID:        id,
			Topic:     strings.TrimSpace(o.Topic),
			Category:  normalizeCategory(o.Category),
			FirstSeen: seen,
			LastSeen:  seen,
		}
		if err := in.store.UpsertCandidate(ctx, cand); err != nil {
			return rep, fmt.Errorf("upsert candidate %q: %w", cand.Topic, err)
		}
		snap := storage.Snapshot{
			CandidateID: id,
			CapturedAt:  seen,
			Volume:      o.Volume,
			Growth:      o.Growth,
		}
		if err := in.store.AppendSnapshot(ctx, snap); err != nil {
			return rep, fmt.Errorf("append snapshot %q: %w", cand.Topic, err)
		}
		if err := in.store.EnsureArm(ctx, id); err != nil {
			return rep, fmt.Errorf("ensure arm %q: %w", cand.Topic, err)
		}
		rep.Ingested++
	}
	return rep, nil
}

func validate(o Observation) *ValidationError {
	if strings.TrimSpace(o.Topic) == "" {
		return &ValidationError{Topic: o.Topic, Field: "topic", Reason: "empty"}
	}
	if o.Volume < 0 {
		return &ValidationError{Topic: o.Topic, Field: "volume", Reason: "negative"}
	}
	if math.IsNaN(o.Growth) || math.IsInf(o.Growth, 0) {
		return &ValidationError{Topic: o.Topic, Field: "growth", Reason: "not finite"}
	}
	return nil
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "general"
	}
	return c
}
