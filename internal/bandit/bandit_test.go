package bandit

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"trendbot/internal/storage"
)

func seeded(cfg Config, seed int64) *Selector {
	s := NewSelector(cfg)
	s.rng = rand.New(rand.NewSource(seed))
	return s
}

func tried(id string, score float64, count int64, avg float64) Candidate {
	return Candidate{
		ID:    id,
		Score: score,
		Arm: storage.Arm{
			CandidateID:      id,
			SelectionCount:   count,
			AverageReward:    avg,
			CumulativeReward: avg * float64(count),
		},
	}
}

func untried(id string, score float64) Candidate {
	return Candidate{ID: id, Score: score, Arm: storage.Arm{CandidateID: id}}
}

func TestSelectEmptySetSkipsRound(t *testing.T) {
	s := NewSelector(Config{})
	_, err := s.Select(time.Now(), nil)
	if !errors.Is(err, ErrNoEligibleCandidates) {
		t.Fatalf("err = %v, want ErrNoEligibleCandidates", err)
	}
}

func TestPureExploitationPicksBestEstimate(t *testing.T) {
	s := NewSelector(Config{Epsilon: 0})
	now := time.Now()

	// A realized average beats an untried warm start even though they are
	// on different scales: that is what makes a proven arm sticky.
	cands := []Candidate{
		untried("b", 0.9),
		tried("a", 0.5, 1, 8.0),
	}
	for i := 0; i < 10; i++ {
		sel, err := s.Select(now, cands)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if sel.CandidateID != "a" || sel.Mode != storage.ModeExploit {
			t.Fatalf("selection = %s/%s, want a/exploit every round", sel.CandidateID, sel.Mode)
		}
		if sel.Estimate != 8.0 {
			t.Fatalf("estimate = %v, want the realized average 8.0", sel.Estimate)
		}
	}
}

func TestWarmStartUsesCompositeScore(t *testing.T) {
	s := NewSelector(Config{Epsilon: 0})
	cands := []Candidate{
		untried("high", 0.95),
		tried("low", 0.2, 3, 0.1),
	}
	sel, err := s.Select(time.Now(), cands)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.CandidateID != "high" {
		t.Fatalf("selected %s, want the untried arm via its score estimate", sel.CandidateID)
	}
	if sel.Estimate != 0.95 {
		t.Fatalf("estimate = %v, want the composite score 0.95", sel.Estimate)
	}
}

func TestExploitTieBreaksByScoreThenID(t *testing.T) {
	s := NewSelector(Config{Epsilon: 0})

	sel, err := s.Select(time.Now(), []Candidate{
		tried("x", 0.3, 2, 5.0),
		tried("y", 0.7, 2, 5.0),
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.CandidateID != "y" {
		t.Fatalf("equal estimates: selected %s, want higher score y", sel.CandidateID)
	}

	sel, err = s.Select(time.Now(), []Candidate{
		tried("bb", 0.5, 2, 5.0),
		tried("aa", 0.5, 2, 5.0),
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.CandidateID != "aa" {
		t.Fatalf("full tie: selected %s, want smaller id aa", sel.CandidateID)
	}
}

func TestFullExplorationIsRoughlyUniform(t *testing.T) {
	s := seeded(Config{Epsilon: 1}, 1)
	cands := []Candidate{untried("a", 0.9), untried("b", 0.5), untried("c", 0.1)}

	const rounds = 6000
	counts := map[string]int{}
	for i := 0; i < rounds; i++ {
		sel, err := s.Select(time.Now(), cands)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if sel.Mode != storage.ModeExplore {
			t.Fatalf("mode = %s, want explore with epsilon 1", sel.Mode)
		}
		counts[sel.CandidateID]++
	}
	want := rounds / len(cands)
	for id, n := range counts {
		if n < want-want/4 || n > want+want/4 {
			t.Fatalf("candidate %s drawn %d times, want near %d: exploration is not uniform", id, n, want)
		}
	}
}

func TestCooldownExcludesFromExploitationOnly(t *testing.T) {
	now := time.Now()
	cool := 10 * time.Minute

	hot := tried("hot", 0.9, 4, 9.0)
	hot.Arm.LastSelected = now.Add(-time.Minute)
	cold := tried("cold", 0.4, 4, 2.0)
	cold.Arm.LastSelected = now.Add(-time.Hour)

	s := NewSelector(Config{Epsilon: 0, Cooldown: cool})
	sel, err := s.Select(now, []Candidate{hot, cold})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.CandidateID != "cold" {
		t.Fatalf("selected %s, want cold (hot is inside its cool-down)", sel.CandidateID)
	}

	// Every arm cooling: the round is skipped rather than forcing a repeat.
	cold.Arm.LastSelected = now.Add(-time.Minute)
	_, err = s.Select(now, []Candidate{hot, cold})
	if !errors.Is(err, ErrNoEligibleCandidates) {
		t.Fatalf("err = %v, want ErrNoEligibleCandidates when all arms cooling", err)
	}

	// Exploration ignores the cool-down entirely.
	se := seeded(Config{Epsilon: 1, Cooldown: cool}, 7)
	sawHot := false
	for i := 0; i < 200; i++ {
		sel, err := se.Select(now, []Candidate{hot, cold})
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if sel.CandidateID == "hot" {
			sawHot = true
			break
		}
	}
	if !sawHot {
		t.Fatalf("exploration never drew the cooling arm in 200 rounds")
	}
}

func TestConfidenceShrinksWithObservations(t *testing.T) {
	s := NewSelector(Config{})
	c1 := s.Confidence(storage.Arm{SelectionCount: 1})
	c4 := s.Confidence(storage.Arm{SelectionCount: 4})
	c100 := s.Confidence(storage.Arm{SelectionCount: 100})
	if !(c1 > c4 && c4 > c100) {
		t.Fatalf("confidence not strictly decreasing: %v, %v, %v", c1, c4, c100)
	}
	if c0 := s.Confidence(storage.Arm{}); c0 != c1 {
		t.Fatalf("untried arm confidence = %v, want same as count 1 (%v)", c0, c1)
	}
	if c1 != DefaultConfidenceZ {
		t.Fatalf("count-1 confidence = %v, want z itself (%v)", c1, DefaultConfidenceZ)
	}
}

func TestEpsilonClampedToUnitInterval(t *testing.T) {
	s := NewSelector(Config{Epsilon: 3.0})
	if s.cfg.Epsilon != 1 {
		t.Fatalf("epsilon = %v, want clamped to 1", s.cfg.Epsilon)
	}
	s = NewSelector(Config{Epsilon: -0.5})
	if s.cfg.Epsilon != 0 {
		t.Fatalf("epsilon = %v, want clamped to 0", s.cfg.Epsilon)
	}
}

func TestApplySwapsPolicyForNextRound(t *testing.T) {
	s := seeded(Config{Epsilon: 1}, 3)
	now := time.Now()
	cands := []Candidate{tried("a", 0.5, 3, 9.0), untried("b", 0.9)}

	if sel, err := s.Select(now, cands); err != nil || sel.Mode != storage.ModeExplore {
		t.Fatalf("selection = %+v, %v, want an explore round at epsilon 1", sel, err)
	}

	s.Apply(Config{Epsilon: 0})
	if got := s.Epsilon(); got != 0 {
		t.Fatalf("Epsilon() = %v after apply, want 0", got)
	}
	for i := 0; i < 10; i++ {
		sel, err := s.Select(now, cands)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if sel.CandidateID != "a" || sel.Mode != storage.ModeExploit {
			t.Fatalf("selection = %s/%s after apply, want a/exploit", sel.CandidateID, sel.Mode)
		}
	}
}
