package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"trendbot/internal/bandit"
	"trendbot/internal/eventbus"
	"trendbot/internal/gate"
	"trendbot/internal/platform"
	"trendbot/internal/reconcile"
	"trendbot/internal/scoring"
	"trendbot/internal/storage"
	"trendbot/internal/trend"
	logx "trendbot/pkg/logx"
)

type fakeSource struct {
	mu      sync.Mutex
	topics  []platform.TrendingTopic
	fetches int

	// When set, Fetch signals started (non-blocking) and waits on release.
	started chan struct{}
	release chan struct{}
}

func (f *fakeSource) set(topics ...platform.TrendingTopic) {
	f.mu.Lock()
	f.topics = append([]platform.TrendingTopic(nil), topics...)
	f.mu.Unlock()
}

func (f *fakeSource) Fetch(ctx context.Context) ([]platform.TrendingTopic, error) {
	f.mu.Lock()
	f.fetches++
	topics := append([]platform.TrendingTopic(nil), f.topics...)
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return topics, nil
}

type fakePublisher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, req platform.PublishRequest) (platform.PublishReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return platform.PublishReceipt{}, f.err
	}
	return platform.PublishReceipt{ContentID: fmt.Sprintf("content-%d", f.calls)}, nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAnalytics struct {
	mu      sync.Mutex
	metrics map[string]platform.ContentMetrics
}

func (f *fakeAnalytics) set(contentID string, m platform.ContentMetrics) {
	f.mu.Lock()
	f.metrics[contentID] = m
	f.mu.Unlock()
}

func (f *fakeAnalytics) Metrics(ctx context.Context, contentID string) (platform.ContentMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.metrics[contentID]; ok {
		return m, nil
	}
	return platform.ContentMetrics{}, platform.ErrNotReady
}

type fixture struct {
	t      *testing.T
	store  *storage.Store
	bus    eventbus.Bus
	events <-chan eventbus.Event
	source *fakeSource
	pub    *fakePublisher
	an     *fakeAnalytics
	eng    *Service
}

func newFixture(t *testing.T, ecfg Config, bcfg bandit.Config, gcfg gate.Config, rcfg reconcile.Config) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "engine.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	bus := eventbus.New()
	events, unsub := bus.SubscribePrefix(128, "decision.", "action.", "reward.")
	t.Cleanup(unsub)

	src := &fakeSource{}
	pub := &fakePublisher{}
	an := &fakeAnalytics{metrics: make(map[string]platform.ContentMetrics)}

	eng := New(ecfg, Deps{
		Store:      st,
		Ingestor:   trend.NewIngestor(st, logx.Nop()),
		Scorer:     scoring.NewScorer(scoring.Config{}),
		Selector:   bandit.NewSelector(bcfg),
		Gate:       gate.New(gcfg, st, pub, bus, nil, logx.Nop()),
		Reconciler: reconcile.New(rcfg, st, an, bus, logx.Nop()),
		Source:     src,
		Bus:        bus,
		Log:        logx.Nop(),
	})
	return &fixture{t: t, store: st, bus: bus, events: events, source: src, pub: pub, an: an, eng: eng}
}

func (f *fixture) trigger(op Op) {
	f.t.Helper()
	if err := f.eng.Trigger(op); err != nil {
		f.t.Fatalf("trigger %s: %v", op, err)
	}
}

func waitRuns(t *testing.T, eng *Service, op Op, want uint64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if eng.Snapshot().Ops[op].Runs >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("op %s never reached %d runs", op, want)
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("event %s never published", typ)
		}
	}
}

func decisionData(t *testing.T, ev eventbus.Event) DecisionEvent {
	t.Helper()
	d, ok := ev.Data.(DecisionEvent)
	if !ok {
		t.Fatalf("%s payload = %#v, want DecisionEvent", ev.Type, ev.Data)
	}
	return d
}

func actionData(t *testing.T, ev eventbus.Event) gate.ActionEvent {
	t.Helper()
	a, ok := ev.Data.(gate.ActionEvent)
	if !ok {
		t.Fatalf("%s payload = %#v, want gate.ActionEvent", ev.Type, ev.Data)
	}
	return a
}

func rewardData(t *testing.T, ev eventbus.Event) reconcile.RewardEvent {
	t.Helper()
	r, ok := ev.Data.(reconcile.RewardEvent)
	if !ok {
		t.Fatalf("%s payload = %#v, want reconcile.RewardEvent", ev.Type, ev.Data)
	}
	return r
}

func TestTriggerLifecycleErrors(t *testing.T) {
	fx := newFixture(t, Config{Enabled: false}, bandit.Config{}, gate.Config{}, reconcile.Config{})
	ctx := context.Background()

	if err := fx.eng.Trigger(OpCycle); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled trigger = %v, want ErrDisabled", err)
	}
	if err := fx.eng.Trigger(Op("bogus")); !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("unknown op = %v, want ErrUnknownOp", err)
	}

	fx.eng.Apply(ctx, Config{Enabled: true})
	if err := fx.eng.Trigger(OpCycle); !errors.Is(err, ErrStopped) {
		t.Fatalf("unstarted trigger = %v, want ErrStopped", err)
	}

	fx.eng.Start(ctx)
	fx.trigger(OpPrune)
	waitRuns(t, fx.eng, OpPrune, 1)

	fx.eng.Stop(ctx)
	if err := fx.eng.Trigger(OpCycle); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped trigger = %v, want ErrStopped", err)
	}
	if snap := fx.eng.Snapshot(); snap.Running {
		t.Fatalf("snapshot reports running after stop")
	}
}

func TestTriggerCoalescesWhileQueued(t *testing.T) {
	fx := newFixture(t, Config{Enabled: true}, bandit.Config{}, gate.Config{}, reconcile.Config{})
	fx.source.started = make(chan struct{}, 1)
	fx.source.release = make(chan struct{})
	ctx := context.Background()
	fx.eng.Start(ctx)
	defer fx.eng.Stop(ctx)

	fx.trigger(OpIngest)
	select {
	case <-fx.source.started:
	case <-time.After(3 * time.Second):
		t.Fatalf("ingest never reached the trend source")
	}

	// The writer is parked inside ingest, so the first prune trigger queues
	// and the next two coalesce into it.
	fx.trigger(OpPrune)
	fx.trigger(OpPrune)
	fx.trigger(OpPrune)
	close(fx.source.release)

	waitRuns(t, fx.eng, OpPrune, 1)
	time.Sleep(20 * time.Millisecond)
	if runs := fx.eng.Snapshot().Ops[OpPrune].Runs; runs != 1 {
		t.Fatalf("prune ran %d times for three triggers, want 1", runs)
	}
}

func TestCycleWithNoCandidatesSkips(t *testing.T) {
	fx := newFixture(t, Config{Enabled: true}, bandit.Config{}, gate.Config{}, reconcile.Config{})
	ctx := context.Background()
	fx.eng.Start(ctx)
	defer fx.eng.Stop(ctx)

	fx.trigger(OpCycle)
	ev := waitEvent(t, fx.events, "decision.skipped")
	skip, ok := ev.Data.(SkipEvent)
	if !ok || skip.Reason != "no_eligible_candidates" {
		t.Fatalf("skip payload = %#v, want no_eligible_candidates", ev.Data)
	}
	if fx.pub.count() != 0 {
		t.Fatalf("publisher called on a skipped cycle")
	}
	waitRuns(t, fx.eng, OpCycle, 1)
	if st := fx.eng.Snapshot().Ops[OpCycle]; st.Errors != 0 {
		t.Fatalf("skipped cycle counted as error: %+v", st)
	}
}

// The full loop: ingest two topics, decide (warm start), publish, fold the
// realized reward, decide again on the learned average, and watch the
// spacing constraint defer the follow-up with a visible retry time.
func TestDecisionLoopEndToEnd(t *testing.T) {
	fx := newFixture(t,
		Config{Enabled: true},
		bandit.Config{Epsilon: 0},
		gate.Config{MaxActionsPerDay: 10, MinSpacing: 2 * time.Hour, AttemptTimeout: 5 * time.Second},
		reconcile.Config{MinAge: time.Millisecond},
	)
	fx.source.set(
		platform.TrendingTopic{Topic: "quantum-chips", Category: "ai", Volume: 5000, Growth: 0.9},
		platform.TrendingTopic{Topic: "retro-consoles", Category: "gaming", Volume: 5000, Growth: 0.1},
	)
	fx.an.set("content-1", platform.ContentMetrics{Views: 8000})

	ctx := context.Background()
	fx.eng.Start(ctx)
	defer fx.eng.Stop(ctx)

	fx.trigger(OpIngest)
	waitRuns(t, fx.eng, OpIngest, 1)

	// Round 1: cold arms at epsilon 0. The higher-growth topic wins on its
	// warm-start score and the empty action log lets it straight through.
	fx.trigger(OpCycle)
	made := decisionData(t, waitEvent(t, fx.events, "decision.made"))
	if made.Topic != "quantum-chips" || made.Mode != storage.ModeExploit {
		t.Fatalf("round 1 picked %s/%s, want quantum-chips/exploit", made.Topic, made.Mode)
	}
	act := actionData(t, waitEvent(t, fx.events, "action.succeeded"))
	if act.ContentID != "content-1" {
		t.Fatalf("content id = %q, want content-1", act.ContentID)
	}

	time.Sleep(5 * time.Millisecond)
	fx.trigger(OpReconcile)
	rew := rewardData(t, waitEvent(t, fx.events, "reward.folded"))
	if rew.Reward != 8.0 {
		t.Fatalf("reward = %v, want 8.0 (8000 views / 1000 per unit)", rew.Reward)
	}
	arm, ok, err := fx.store.GetArm(ctx, made.CandidateID)
	if err != nil || !ok {
		t.Fatalf("arm after fold: ok=%v err=%v", ok, err)
	}
	if arm.SelectionCount != 1 || arm.AverageReward != 8.0 {
		t.Fatalf("arm = count %d avg %v, want 1 / 8.0", arm.SelectionCount, arm.AverageReward)
	}

	// Round 2: the realized average beats the other topic's raw score, and
	// min_spacing defers the follow-up action.
	fx.trigger(OpCycle)
	made2 := decisionData(t, waitEvent(t, fx.events, "decision.made"))
	if made2.Topic != "quantum-chips" || made2.Estimate != 8.0 {
		t.Fatalf("round 2 = %s estimate %v, want quantum-chips on average 8.0", made2.Topic, made2.Estimate)
	}
	def := actionData(t, waitEvent(t, fx.events, "action.deferred"))
	if def.Reason != "min_spacing" {
		t.Fatalf("deferral reason = %q, want min_spacing", def.Reason)
	}
	if !def.NextAttempt.After(time.Now()) {
		t.Fatalf("deferred with no future retry time: %v", def.NextAttempt)
	}
	if got := fx.pub.count(); got != 1 {
		t.Fatalf("publisher called %d times, want 1 (round 2 deferred)", got)
	}
}

func TestApplyResizeAndDisable(t *testing.T) {
	fx := newFixture(t, Config{Enabled: true, QueueSize: 8}, bandit.Config{}, gate.Config{}, reconcile.Config{})
	ctx := context.Background()
	fx.eng.Start(ctx)
	defer fx.eng.Stop(ctx)

	fx.trigger(OpPrune)
	waitRuns(t, fx.eng, OpPrune, 1)

	// Queue resize restarts the workers without losing run statistics.
	fx.eng.Apply(ctx, Config{Enabled: true, QueueSize: 32})
	if snap := fx.eng.Snapshot(); snap.WriterQueueCap != 32 || !snap.Running {
		t.Fatalf("after resize: cap=%d running=%v, want 32/true", snap.WriterQueueCap, snap.Running)
	}
	fx.trigger(OpPrune)
	waitRuns(t, fx.eng, OpPrune, 2)

	// Disabling stops the workers; triggers start reporting ErrDisabled.
	fx.eng.Apply(ctx, Config{Enabled: false})
	if err := fx.eng.Trigger(OpPrune); !errors.Is(err, ErrDisabled) {
		t.Fatalf("trigger while disabled = %v, want ErrDisabled", err)
	}
	if snap := fx.eng.Snapshot(); snap.Running {
		t.Fatalf("still running after disable")
	}
}
