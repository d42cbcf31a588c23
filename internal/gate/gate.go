// Package gate enforces the platform compliance constraints and owns the
// action lifecycle: every publish attempt passes through the gate, and the
// durable action log is the only evidence it consults.
package gate

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"trendbot/internal/eventbus"
	"trendbot/internal/platform"
	"trendbot/internal/storage"
	logx "trendbot/pkg/logx"

	"github.com/google/uuid"
)

// complianceWindow is the rolling window for the daily action cap.
const complianceWindow = 24 * time.Hour

// Defaults used when config fields are zero.
const (
	DefaultMaxActionsPerDay = 2
	DefaultMinSpacing       = 2 * time.Hour
	DefaultAttemptTimeout   = 60 * time.Second
	DefaultRetryMax         = 3
	DefaultRetryBase        = 4 * time.Second
	DefaultRetryMaxDelay    = 10 * time.Minute
)

type Config struct {
	MaxActionsPerDay int
	MinSpacing       time.Duration
	AttemptTimeout   time.Duration
	RetryMax         int
	RetryBase        time.Duration
	RetryMaxDelay    time.Duration
}

func (c Config) normalized() Config {
	out := c
	if out.MaxActionsPerDay <= 0 {
		out.MaxActionsPerDay = DefaultMaxActionsPerDay
	}
	if out.MinSpacing <= 0 {
		out.MinSpacing = DefaultMinSpacing
	}
	if out.AttemptTimeout <= 0 {
		out.AttemptTimeout = DefaultAttemptTimeout
	}
	if out.RetryMax <= 0 {
		out.RetryMax = DefaultRetryMax
	}
	if out.RetryBase <= 0 {
		out.RetryBase = DefaultRetryBase
	}
	if out.RetryMaxDelay <= 0 {
		out.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if out.RetryMaxDelay < out.RetryBase {
		out.RetryMaxDelay = out.RetryBase
	}
	return out
}

// Publisher is the outbound side of an attempt.
type Publisher interface {
	Publish(ctx context.Context, req platform.PublishRequest) (platform.PublishReceipt, error)
}

// Alerter raises operator alerts. May be nil.
type Alerter interface {
	Alert(ctx context.Context, priority int, text string)
}

// Verdict is the outcome of one constraint evaluation.
type Verdict struct {
	Allowed bool
	// Reason names the binding constraints when not allowed:
	// "daily_cap", "min_spacing" or "daily_cap,min_spacing".
	Reason string
	// NextAttemptAt is the earliest time every binding constraint has
	// expired (the later of the individual expiries).
	NextAttemptAt time.Time
}

// ActionEvent is the bus payload for action lifecycle events
// ("action.deferred", "action.retry", "action.succeeded", "action.failed").
type ActionEvent struct {
	ActionID    string    `json:"action_id"`
	DecisionID  string    `json:"decision_id"`
	CandidateID string    `json:"candidate_id"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	NextAttempt time.Time `json:"next_attempt,omitempty"`
	ContentID   string    `json:"content_id,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Due       int
	Succeeded int
	Deferred  int
	Retried   int
	Failed    int
}

type Gate struct {
	store *storage.Store
	pub   Publisher
	bus   eventbus.Bus
	alert Alerter
	log   logx.Logger

	now func() time.Time

	mu  sync.Mutex
	cfg Config
	rng *rand.Rand
}

func New(cfg Config, store *storage.Store, pub Publisher, bus eventbus.Bus, alert Alerter, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{
		cfg:   cfg.normalized(),
		store: store,
		pub:   pub,
		bus:   bus,
		alert: alert,
		log:   log,
		now:   time.Now,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Apply swaps the tunables. In-flight attempts keep the config they
// started with.
func (g *Gate) Apply(cfg Config) {
	g.mu.Lock()
	g.cfg = cfg.normalized()
	g.mu.Unlock()
}

func (g *Gate) config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// Evaluate checks both compliance constraints against the durable action
// log. It never consults in-memory state, so a restart cannot forget a
// published action.
func (g *Gate) Evaluate(ctx context.Context) (Verdict, error) {
	cfg := g.config()
	now := g.now()
	count, oldest, err := g.store.SucceededWindow(ctx, now.Add(-complianceWindow))
	if err != nil {
		return Verdict{}, err
	}
	last, hasLast, err := g.store.LastSuccessAt(ctx)
	if err != nil {
		return Verdict{}, err
	}

	var reasons []string
	var next time.Time

	if count >= cfg.MaxActionsPerDay {
		reasons = append(reasons, "daily_cap")
		// The cap frees up when the oldest success leaves the window.
		if at := oldest.Add(complianceWindow); at.After(next) {
			next = at
		}
	}
	if hasLast && now.Sub(last) < cfg.MinSpacing {
		reasons = append(reasons, "min_spacing")
		if at := last.Add(cfg.MinSpacing); at.After(next) {
			next = at
		}
	}

	if len(reasons) > 0 {
		return Verdict{Allowed: false, Reason: strings.Join(reasons, ","), NextAttemptAt: next}, nil
	}
	return Verdict{Allowed: true}, nil
}

// Submit records a new action for a fresh decision and either defers it
// (constraints binding) or attempts the publish immediately.
func (g *Gate) Submit(ctx context.Context, dec storage.Decision, topic, category string) (storage.Action, error) {
	now := g.now()
	a := storage.Action{
		ID:          uuid.NewString(),
		DecisionID:  dec.ID,
		CandidateID: dec.CandidateID,
		DecidedAt:   dec.DecidedAt,
		UpdatedAt:   now,
	}

	v, err := g.Evaluate(ctx)
	if err != nil {
		return a, err
	}
	if !v.Allowed {
		a.Status = storage.ActionDeferred
		a.NextAttemptAt = v.NextAttemptAt
		if err := g.store.InsertAction(ctx, a); err != nil {
			return a, err
		}
		g.deferred(a, v)
		return a, nil
	}

	a.Status = storage.ActionPending
	if err := g.store.InsertAction(ctx, a); err != nil {
		return a, err
	}
	if err := g.attempt(ctx, &a, topic, category); err != nil {
		return a, err
	}
	return a, nil
}

// Sweep re-processes every due action in decision order: deferred actions
// whose re-check time arrived, pending retries whose backoff elapsed, and
// pending rows orphaned by a crash (no schedule, untouched for more than
// twice the attempt timeout). Constraints are re-checked before every
// attempt; the gate is never bypassed by retry pressure.
func (g *Gate) Sweep(ctx context.Context) (SweepReport, error) {
	now := g.now()
	orphanBefore := now.Add(-2 * g.config().AttemptTimeout)
	due, err := g.store.DueActions(ctx, now, orphanBefore)
	if err != nil {
		return SweepReport{}, err
	}

	rep := SweepReport{Due: len(due)}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		a := due[i]

		cand, found, err := g.store.GetCandidate(ctx, a.CandidateID)
		if err != nil {
			return rep, err
		}
		if !found {
			// Cannot build a publish request without the candidate row.
			// Fail the action so it stops cycling through sweeps.
			a.Status = storage.ActionFailed
			a.LastError = "candidate record missing"
			a.UpdatedAt = g.now()
			if err := g.store.UpdateAction(ctx, a); err != nil {
				return rep, err
			}
			rep.Failed++
			continue
		}

		v, err := g.Evaluate(ctx)
		if err != nil {
			return rep, err
		}
		if !v.Allowed {
			a.Status = storage.ActionDeferred
			a.NextAttemptAt = v.NextAttemptAt
			a.UpdatedAt = g.now()
			if err := g.store.UpdateAction(ctx, a); err != nil {
				return rep, err
			}
			g.deferred(a, v)
			rep.Deferred++
			continue
		}

		a.Status = storage.ActionPending
		if err := g.attempt(ctx, &a, cand.Topic, cand.Category); err != nil {
			return rep, err
		}
		switch a.Status {
		case storage.ActionSucceeded:
			rep.Succeeded++
		case storage.ActionFailed:
			rep.Failed++
		default:
			rep.Retried++
		}
	}
	return rep, nil
}

// attempt runs one bounded publish call and advances the action state.
// Storage errors abort; publish errors are classified into the retry state
// machine.
func (g *Gate) attempt(ctx context.Context, a *storage.Action, topic, category string) error {
	cfg := g.config()

	// Persist the attempt start first: pending with no schedule marks an
	// in-flight attempt, which is what the orphan sweep keys on.
	a.Attempts++
	a.NextAttemptAt = time.Time{}
	a.UpdatedAt = g.now()
	if err := g.store.UpdateAction(ctx, *a); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
	receipt, err := g.pub.Publish(cctx, platform.PublishRequest{
		DecisionID:  a.DecisionID,
		CandidateID: a.CandidateID,
		Topic:       topic,
		Category:    category,
		PayloadRef:  "decisions/" + a.DecisionID + "/payload",
	})
	cancel()

	now := g.now()
	switch {
	case err == nil:
		a.Status = storage.ActionSucceeded
		a.ExecutedAt = now
		a.ContentID = receipt.ContentID
		a.LastError = ""
	case platform.IsTransient(err) && a.Attempts < cfg.RetryMax:
		a.Status = storage.ActionPending
		a.NextAttemptAt = now.Add(g.retryDelay(cfg, a.Attempts, err))
		a.LastError = err.Error()
	default:
		// Permanent rejection, or the transient budget is spent.
		a.Status = storage.ActionFailed
		a.LastError = err.Error()
	}
	a.UpdatedAt = now
	if uerr := g.store.UpdateAction(ctx, *a); uerr != nil {
		return uerr
	}

	switch a.Status {
	case storage.ActionSucceeded:
		g.log.Info("action succeeded",
			logx.String("action_id", a.ID),
			logx.String("candidate_id", a.CandidateID),
			logx.String("content_id", a.ContentID),
			logx.Int("attempts", a.Attempts),
		)
		g.publish("action.succeeded", ActionEvent{
			ActionID: a.ID, DecisionID: a.DecisionID, CandidateID: a.CandidateID,
			Status: string(a.Status), Attempts: a.Attempts, ContentID: a.ContentID,
		})
	case storage.ActionPending:
		g.log.Warn("attempt failed; retry scheduled",
			logx.String("action_id", a.ID),
			logx.Int("attempt", a.Attempts),
			logx.Int("max", cfg.RetryMax),
			logx.Time("next_attempt", a.NextAttemptAt),
			logx.String("err", a.LastError),
		)
		g.publish("action.retry", ActionEvent{
			ActionID: a.ID, DecisionID: a.DecisionID, CandidateID: a.CandidateID,
			Status: string(a.Status), Attempts: a.Attempts,
			NextAttempt: a.NextAttemptAt, Error: a.LastError,
		})
	case storage.ActionFailed:
		g.log.Error("action failed",
			logx.String("action_id", a.ID),
			logx.String("candidate_id", a.CandidateID),
			logx.Int("attempts", a.Attempts),
			logx.String("err", a.LastError),
		)
		g.publish("action.failed", ActionEvent{
			ActionID: a.ID, DecisionID: a.DecisionID, CandidateID: a.CandidateID,
			Status: string(a.Status), Attempts: a.Attempts, Error: a.LastError,
		})
		if g.alert != nil {
			g.alert.Alert(ctx, 9, "publish failed for "+topic+": "+a.LastError)
		}
	}
	return nil
}

func (g *Gate) deferred(a storage.Action, v Verdict) {
	g.log.Info("action deferred",
		logx.String("action_id", a.ID),
		logx.String("candidate_id", a.CandidateID),
		logx.String("reason", v.Reason),
		logx.Time("next_attempt", v.NextAttemptAt),
	)
	g.publish("action.deferred", ActionEvent{
		ActionID: a.ID, DecisionID: a.DecisionID, CandidateID: a.CandidateID,
		Status: string(storage.ActionDeferred), Reason: v.Reason, NextAttempt: v.NextAttemptAt,
	})
}

// retryDelay picks the wait before the next attempt: the computed backoff,
// or the server's Retry-After hint when that is longer.
func (g *Gate) retryDelay(cfg Config, attempt int, err error) time.Duration {
	d := g.backoff(cfg, attempt)
	var te *platform.TransientError
	if errors.As(err, &te) && te.RetryAfter > d {
		d = te.RetryAfter
	}
	return d
}

// backoff is base * 2^(attempt-1) capped at the max delay, with 0.7..1.3
// jitter so parallel instances do not thunder.
func (g *Gate) backoff(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	g.mu.Lock()
	j := 0.7 + g.rng.Float64()*0.6
	g.mu.Unlock()
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (g *Gate) publish(typ string, ev ActionEvent) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(eventbus.Event{Type: typ, Time: g.now(), Data: ev})
}
