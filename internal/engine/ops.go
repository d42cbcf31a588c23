package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trendbot/internal/bandit"
	"trendbot/internal/eventbus"
	"trendbot/internal/scoring"
	"trendbot/internal/storage"
	"trendbot/internal/trend"
	logx "trendbot/pkg/logx"

	"github.com/google/uuid"
)

func (s *Service) runLoop(ctx context.Context, stopCh <-chan struct{}, queue chan Op) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case op, ok := <-queue:
			if !ok {
				return
			}
			// Clear the coalescing mark before running: a trigger that
			// arrives mid-run wants another full pass.
			s.mu.Lock()
			if s.queued != nil {
				delete(s.queued, op)
			}
			s.mu.Unlock()
			s.runOne(ctx, op)
		}
	}
}

func (s *Service) runOne(ctx context.Context, op Op) {
	start := time.Now()
	s.log.Debug("op started", logx.String("op", string(op)))

	var detail string
	var err error
	switch op {
	case OpCycle:
		detail, err = s.cycle(ctx)
	case OpSweep:
		detail, err = s.sweep(ctx)
	case OpIngest:
		detail, err = s.ingest(ctx)
	case OpPrune:
		detail, err = s.prune(ctx)
	case OpReconcile:
		detail, err = s.reconcileOnce(ctx)
	}
	took := time.Since(start)

	ev := OpEvent{Op: string(op), TookMS: took.Milliseconds(), Detail: detail}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("op failed", logx.String("op", string(op)), logx.Err(err), logx.Duration("took", took))
	} else {
		s.log.Debug("op finished", logx.String("op", string(op)), logx.String("detail", detail), logx.Duration("took", took))
	}
	s.publish("engine."+string(op), ev)
	s.note(op, took, err)
}

// cycle runs one full decision round: score fresh candidates, persist the
// scores, select with the epsilon-greedy policy, record the decision
// durably, then hand the action to the gate. A round with nothing to decide
// is a skip, never an error.
func (s *Service) cycle(ctx context.Context) (string, error) {
	cfg := s.config()
	now := s.now()

	states, err := s.store.CandidateStates(ctx, now.Add(-cfg.Freshness))
	if err != nil {
		return "", fmt.Errorf("candidate states: %w", err)
	}

	scored, skipped := s.scorer.ScoreAll(states)
	for _, sk := range skipped {
		s.log.Warn("candidate failed scoring",
			logx.String("topic", sk.Topic), logx.String("reason", sk.Reason))
	}
	if len(scored) > 0 {
		marks := make(map[string]float64, len(scored))
		for _, sc := range scored {
			marks[sc.CandidateID] = sc.Score
		}
		if err := s.store.RecordScores(ctx, now, marks); err != nil {
			return "", fmt.Errorf("record scores: %w", err)
		}
	}

	eligible := scoring.Eligible(scored, cfg.MinScore)
	if len(eligible) == 0 {
		s.log.Info("cycle skipped: no eligible candidates",
			logx.Int("fresh", len(states)), logx.Int("scored", len(scored)))
		s.publish("decision.skipped", SkipEvent{Reason: "no_eligible_candidates", Scored: len(scored)})
		return "no eligible candidates", nil
	}

	arms, err := s.store.Arms(ctx)
	if err != nil {
		return "", fmt.Errorf("load arms: %w", err)
	}
	cands := make([]bandit.Candidate, 0, len(eligible))
	byID := make(map[string]scoring.Scored, len(eligible))
	for _, sc := range eligible {
		cands = append(cands, bandit.Candidate{ID: sc.CandidateID, Score: sc.Score, Arm: arms[sc.CandidateID]})
		byID[sc.CandidateID] = sc
	}

	sel, err := s.selector.Select(now, cands)
	if errors.Is(err, bandit.ErrNoEligibleCandidates) {
		s.log.Info("cycle skipped: every arm cooling", logx.Int("eligible", len(cands)))
		s.publish("decision.skipped", SkipEvent{Reason: "all_arms_cooling", Scored: len(scored), Eligible: len(cands)})
		return "every arm cooling", nil
	}
	if err != nil {
		return "", fmt.Errorf("select: %w", err)
	}

	picked := byID[sel.CandidateID]
	dec := storage.Decision{
		ID:          uuid.NewString(),
		CandidateID: sel.CandidateID,
		DecidedAt:   now,
		Mode:        sel.Mode,
		Score:       sel.Score,
		Estimate:    sel.Estimate,
		Epsilon:     sel.Epsilon,
	}
	if err := s.store.RecordSelection(ctx, dec); err != nil {
		return "", fmt.Errorf("record selection: %w", err)
	}
	s.log.Info("decision made",
		logx.String("decision", dec.ID),
		logx.String("topic", picked.Topic),
		logx.String("mode", dec.Mode),
		logx.Float64("score", dec.Score),
		logx.Float64("estimate", dec.Estimate),
	)
	s.publish("decision.made", DecisionEvent{
		DecisionID:  dec.ID,
		CandidateID: dec.CandidateID,
		Topic:       picked.Topic,
		Category:    picked.Category,
		Mode:        dec.Mode,
		Score:       dec.Score,
		Estimate:    dec.Estimate,
		Epsilon:     dec.Epsilon,
	})

	action, err := s.gate.Submit(ctx, dec, picked.Topic, picked.Category)
	if err != nil {
		return "", fmt.Errorf("submit action: %w", err)
	}
	return fmt.Sprintf("decision %s %s", dec.ID, action.Status), nil
}

// sweep re-attempts due deferred/pending actions through the gate.
func (s *Service) sweep(ctx context.Context) (string, error) {
	rep, err := s.gate.Sweep(ctx)
	if err != nil {
		return "", err
	}
	if rep.Due > 0 {
		s.log.Info("sweep finished",
			logx.Int("due", rep.Due), logx.Int("succeeded", rep.Succeeded),
			logx.Int("retried", rep.Retried), logx.Int("deferred", rep.Deferred),
			logx.Int("failed", rep.Failed))
	}
	return fmt.Sprintf("due %d succeeded %d retried %d deferred %d failed %d",
		rep.Due, rep.Succeeded, rep.Retried, rep.Deferred, rep.Failed), nil
}

// ingest pulls the trend feed and stores observations. No source configured
// means nothing to do.
func (s *Service) ingest(ctx context.Context) (string, error) {
	if s.source == nil {
		return "no trend source", nil
	}
	topics, err := s.source.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch trends: %w", err)
	}
	obs := make([]trend.Observation, 0, len(topics))
	for _, tt := range topics {
		obs = append(obs, trend.Observation{
			Topic:    tt.Topic,
			Category: tt.Category,
			Volume:   tt.Volume,
			Growth:   tt.Growth,
			SeenAt:   tt.ObservedAt,
		})
	}
	rep, err := s.ingestor.Ingest(ctx, obs)
	if err != nil {
		return "", fmt.Errorf("ingest: %w", err)
	}
	s.log.Info("trends ingested",
		logx.Int("ingested", rep.Ingested), logx.Int("skipped", rep.Skipped))
	return fmt.Sprintf("ingested %d skipped %d", rep.Ingested, rep.Skipped), nil
}

// prune drops snapshots past the retention window. Candidates, decisions
// and actions are never pruned; they are the audit trail.
func (s *Service) prune(ctx context.Context) (string, error) {
	cfg := s.config()
	n, err := s.store.PruneSnapshots(ctx, s.now().Add(-cfg.SnapshotRetention))
	if err != nil {
		return "", fmt.Errorf("prune snapshots: %w", err)
	}
	if n > 0 {
		s.log.Info("snapshots pruned", logx.Int64("removed", n))
	}
	return fmt.Sprintf("removed %d", n), nil
}

// reconcileOnce folds realized rewards for one batch of settled actions.
func (s *Service) reconcileOnce(ctx context.Context) (string, error) {
	rep, err := s.reconciler.Run(ctx)
	if err != nil {
		return "", err
	}
	if rep.Scanned > 0 {
		s.log.Info("reconcile finished",
			logx.Int("scanned", rep.Scanned), logx.Int("folded", rep.Folded),
			logx.Int("not_ready", rep.NotReady), logx.Int("skipped", rep.Skipped))
	}
	return fmt.Sprintf("scanned %d folded %d not_ready %d skipped %d",
		rep.Scanned, rep.Folded, rep.NotReady, rep.Skipped), nil
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func (s *Service) note(op Op, took time.Duration, err error) {
	s.smu.Lock()
	st := s.stats[op]
	st.Runs++
	st.LastAt = time.Now()
	st.LastTook = took
	if err != nil {
		st.Errors++
		st.LastErr = err.Error()
	} else {
		st.LastErr = ""
	}
	s.stats[op] = st
	s.smu.Unlock()
}
