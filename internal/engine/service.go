// Package engine owns the decision loop: a trigger queue feeding a
// single-writer worker (cycle, sweep, ingest, prune) and a separate
// reconcile worker. Cadence comes from outside (the schedule service or an
// operator); the engine itself never sleeps.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
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

	rtsup "trendbot/internal/runtime/supervisor"
)

// TrendSource is the feed the ingest op pulls trending topics from.
// *platform.TrendsClient is the production implementation.
type TrendSource interface {
	Fetch(ctx context.Context) ([]platform.TrendingTopic, error)
}

// Deps are the collaborators one engine drives. Store, Ingestor, Scorer,
// Selector, Gate and Reconciler are required; Source may be nil (ingest
// becomes a no-op), Bus may be nil (no events).
type Deps struct {
	Store      *storage.Store
	Ingestor   *trend.Ingestor
	Scorer     *scoring.Scorer
	Selector   *bandit.Selector
	Gate       *gate.Gate
	Reconciler *reconcile.Reconciler
	Source     TrendSource
	Bus        eventbus.Bus
	Log        logx.Logger
}

type Service struct {
	log logx.Logger
	bus eventbus.Bus

	store      *storage.Store
	ingestor   *trend.Ingestor
	scorer     *scoring.Scorer
	selector   *bandit.Selector
	gate       *gate.Gate
	reconciler *reconcile.Reconciler
	source     TrendSource

	now func() time.Time

	mu       sync.Mutex
	cfg      Config
	writerQ  chan Op
	reconQ   chan Op
	queued   map[Op]bool
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	smu   sync.Mutex
	stats map[Op]OpStats
}

func New(cfg Config, d Deps) *Service {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:        log,
		bus:        d.Bus,
		store:      d.Store,
		ingestor:   d.Ingestor,
		scorer:     d.Scorer,
		selector:   d.Selector,
		gate:       d.Gate,
		reconciler: d.Reconciler,
		source:     d.Source,
		now:        time.Now,
		cfg:        cfg.normalized(),
		stats:      make(map[Op]OpStats),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply swaps the tunables. A queue-capacity change restarts the workers;
// disabling stops them. Enabling a stopped engine is the caller's job
// (Start is idempotent, so calling it after Apply is always safe).
func (s *Service) Apply(ctx context.Context, cfg Config) {
	next := cfg.normalized()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = next
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !running {
		return
	}
	if !next.Enabled {
		s.Stop(ctx)
		return
	}
	if prev.QueueSize != next.QueueSize {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start brings up both workers. Idempotent; a no-op while disabled. If a
// stop is in flight it waits for the stop to finish first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	if !cfg.Enabled {
		s.mu.Unlock()
		return
	}
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	s.writerQ = make(chan Op, cfg.QueueSize)
	s.reconQ = make(chan Op, 1)
	s.queued = make(map[Op]bool)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh

	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "engine"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	workers := []struct {
		name string
		q    chan Op
	}{
		{"writer", s.writerQ},
		{"reconciler", s.reconQ},
	}
	s.mu.Unlock()

	for _, w := range workers {
		w := w
		sup.GoRestart(w.name, func(c context.Context) error {
			s.runLoop(c, stopCh, w.q)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New(w.name + " exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("engine started", logx.Int("queue", cfg.QueueSize))
}

// Stop cancels both workers and waits for them. An op in flight is aborted
// through its context; an interrupted publish leaves a pending action row
// that the next sweep picks up as an orphan.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.writerQ = nil
		s.reconQ = nil
		s.queued = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("engine stopped")
	case <-ctx.Done():
		s.log.Warn("engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Trigger queues one op. Duplicate triggers coalesce while the op is
// already queued (nil, nothing enqueued); a trigger during the op's run
// queues a fresh one.
func (s *Service) Trigger(op Op) error {
	var writer bool
	switch op {
	case OpCycle, OpSweep, OpIngest, OpPrune:
		writer = true
	case OpReconcile:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if s.stopCh == nil || s.stopDone != nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.queued[op] {
		s.mu.Unlock()
		s.log.Debug("trigger coalesced", logx.String("op", string(op)))
		return nil
	}
	q := s.reconQ
	if writer {
		q = s.writerQ
	}
	s.queued[op] = true
	s.mu.Unlock()

	select {
	case q <- op:
		return nil
	default:
	}
	// Each op sits in the queue at most once, so this only fires when the
	// capacity is configured below the op count.
	s.mu.Lock()
	delete(s.queued, op)
	s.mu.Unlock()
	s.log.Warn("trigger dropped: queue full", logx.String("op", string(op)))
	return ErrQueueFull
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	running := s.stopCh != nil && s.stopDone == nil
	wq, rq := s.writerQ, s.reconQ
	s.mu.Unlock()

	snap := Snapshot{Enabled: cfg.Enabled, Running: running}
	if wq != nil {
		snap.WriterQueueLen, snap.WriterQueueCap = len(wq), cap(wq)
	}
	if rq != nil {
		snap.ReconcileQueueLen, snap.ReconcileQueueCap = len(rq), cap(rq)
	}

	s.smu.Lock()
	snap.Ops = make(map[Op]OpStats, len(s.stats))
	for k, v := range s.stats {
		snap.Ops[k] = v
	}
	s.smu.Unlock()
	return snap
}
