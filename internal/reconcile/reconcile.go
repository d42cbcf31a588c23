// Package reconcile folds delayed engagement outcomes back into the
// per-candidate reward statistics. It runs on its own cadence, hours behind
// the decision cycle, because platform metrics take time to settle.
package reconcile

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"trendbot/internal/eventbus"
	"trendbot/internal/platform"
	"trendbot/internal/storage"
	logx "trendbot/pkg/logx"
)

// Defaults. The weights mirror the platform's observed value mix: raw reach
// first, engagement volume second, engagement rate as the kicker. They must
// sum to 100 so rewards stay comparable across config changes.
const (
	DefaultMinAge           = 2 * time.Hour
	DefaultBatch            = 50
	DefaultVolumeWeight     = 50.0
	DefaultEngagementWeight = 30.0
	DefaultConversionWeight = 20.0
	DefaultVolumeUnit       = 1000.0
	DefaultEngagementUnit   = 100.0
)

type Config struct {
	// MinAge is how long after a success the metrics fetch waits.
	MinAge time.Duration
	// Batch bounds how many decisions one pass reconciles.
	Batch int

	VolumeWeight     float64
	EngagementWeight float64
	ConversionWeight float64
	VolumeUnit       float64
	EngagementUnit   float64
}

func (c Config) normalized() Config {
	out := c
	if out.MinAge <= 0 {
		out.MinAge = DefaultMinAge
	}
	if out.Batch <= 0 {
		out.Batch = DefaultBatch
	}
	if out.VolumeWeight == 0 && out.EngagementWeight == 0 && out.ConversionWeight == 0 {
		out.VolumeWeight = DefaultVolumeWeight
		out.EngagementWeight = DefaultEngagementWeight
		out.ConversionWeight = DefaultConversionWeight
	}
	if out.VolumeUnit <= 0 {
		out.VolumeUnit = DefaultVolumeUnit
	}
	if out.EngagementUnit <= 0 {
		out.EngagementUnit = DefaultEngagementUnit
	}
	return out
}

// Analytics is the metrics side of the reconciler. The production
// implementation is platform.AnalyticsClient.
type Analytics interface {
	Metrics(ctx context.Context, contentID string) (platform.ContentMetrics, error)
}

// RewardEvent is the bus payload for "reward.folded".
type RewardEvent struct {
	DecisionID  string  `json:"decision_id"`
	CandidateID string  `json:"candidate_id"`
	ContentID   string  `json:"content_id"`
	Reward      float64 `json:"reward"`
}

// Report summarizes one reconcile pass.
type Report struct {
	Scanned  int
	Folded   int
	NotReady int
	Skipped  int
}

type Reconciler struct {
	store     *storage.Store
	analytics Analytics
	bus       eventbus.Bus
	log       logx.Logger

	now func() time.Time

	mu  sync.Mutex
	cfg Config
}

func New(cfg Config, store *storage.Store, analytics Analytics, bus eventbus.Bus, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{
		cfg:       cfg.normalized(),
		store:     store,
		analytics: analytics,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// Apply swaps the tunables. A running pass keeps the config it started with.
func (r *Reconciler) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg.normalized()
	r.mu.Unlock()
}

func (r *Reconciler) config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Run reconciles one batch: every succeeded action older than the settling
// delay whose decision still has no realized reward. Fetch trouble skips the
// item (the next pass retries it); only storage failures abort the pass.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	cfg := r.config()
	now := r.now()
	items, err := r.store.ReconcileQueue(ctx, now.Add(-cfg.MinAge), cfg.Batch)
	if err != nil {
		return Report{}, err
	}

	rep := Report{Scanned: len(items)}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		m, err := r.analytics.Metrics(ctx, it.ContentID)
		switch {
		case errors.Is(err, platform.ErrNotReady):
			rep.NotReady++
			r.log.Debug("metrics not indexed yet",
				logx.String("decision_id", it.DecisionID),
				logx.String("content_id", it.ContentID),
			)
			continue
		case err != nil:
			rep.Skipped++
			r.log.Warn("metrics fetch failed; retrying next pass",
				logx.String("decision_id", it.DecisionID),
				logx.String("content_id", it.ContentID),
				logx.Err(err),
			)
			continue
		}

		reward := r.Reward(m)
		folded, err := r.store.FoldReward(ctx, it.DecisionID, reward)
		if err != nil {
			return rep, err
		}
		if !folded {
			// A previous pass beat us to this decision.
			continue
		}
		rep.Folded++
		r.log.Info("reward folded",
			logx.String("decision_id", it.DecisionID),
			logx.String("candidate_id", it.CandidateID),
			logx.Float64("reward", reward),
			logx.Int64("views", m.Views),
		)
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: "reward.folded", Time: now, Data: RewardEvent{
				DecisionID:  it.DecisionID,
				CandidateID: it.CandidateID,
				ContentID:   it.ContentID,
				Reward:      reward,
			}})
		}
	}
	return rep, nil
}

// Reward maps an engagement snapshot onto the 0..100 scale: reach capped at
// the volume weight, weighted engagement volume capped at the engagement
// weight, and engagement-per-view scaled into the conversion weight.
func (r *Reconciler) Reward(m platform.ContentMetrics) float64 {
	cfg := r.config()
	views := float64(m.Views)
	points := float64(m.Likes + 2*m.Shares + 3*m.Comments)

	volumeTerm := math.Min(views/cfg.VolumeUnit, cfg.VolumeWeight)
	engagementTerm := math.Min(points/cfg.EngagementUnit, cfg.EngagementWeight)

	var rate float64
	if m.Views > 0 {
		rate = float64(m.Likes+m.Shares+m.Comments) / views
	}
	rate = math.Max(0, math.Min(rate, 1))

	total := volumeTerm + engagementTerm + rate*cfg.ConversionWeight
	limit := cfg.VolumeWeight + cfg.EngagementWeight + cfg.ConversionWeight
	return math.Max(0, math.Min(total, limit))
}
