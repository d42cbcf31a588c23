package scoring

import (
	"math"
	"testing"
	"time"

	"trendbot/internal/storage"
)

func state(id, category string, volume int64, growth float64, obs int) storage.CandidateState {
	return storage.CandidateState{
		Candidate: storage.Candidate{ID: id, Topic: "t-" + id, Category: category},
		Latest: storage.Snapshot{
			CandidateID: id, CapturedAt: time.Now(), Volume: volume, Growth: growth,
		},
		Observations: obs,
	}
}

func TestScoreStaysInUnitInterval(t *testing.T) {
	s := NewScorer(Config{})
	cases := []storage.CandidateState{
		state("zero", "general", 0, 0, 5),
		state("huge", "ai", 1_000_000_000, 50.0, 5),
		state("neg-growth", "crypto", 100, -3.0, 5),
		state("mid", "gaming", 10_000, 0.5, 5),
	}
	for _, cs := range cases {
		sc, err := s.Score(cs)
		if err != nil {
			t.Fatalf("score %s: %v", cs.ID, err)
		}
		if sc.Score < 0 || sc.Score > 1 {
			t.Fatalf("score %s = %v, want within [0,1]", cs.ID, sc.Score)
		}
	}
}

func TestScoreTermBehavior(t *testing.T) {
	s := NewScorer(Config{})

	// Growth saturates at the reference rate.
	ref, err := s.Score(state("a", "general", 0, 1.0, 5))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	over, err := s.Score(state("b", "general", 0, 7.5, 5))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if ref.GrowthTerm != 1 || over.GrowthTerm != 1 {
		t.Fatalf("growth terms = %v / %v, want both saturated at 1", ref.GrowthTerm, over.GrowthTerm)
	}

	// Negative growth clamps to zero instead of going negative.
	neg, err := s.Score(state("c", "general", 0, -0.4, 5))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if neg.GrowthTerm != 0 {
		t.Fatalf("negative growth term = %v, want 0", neg.GrowthTerm)
	}

	// Volume is log-scaled: 1000 out of a 1e6 ceiling lands around half.
	vol, err := s.Score(state("d", "general", 1000, 0, 5))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if vol.VolumeTerm < 0.45 || vol.VolumeTerm > 0.55 {
		t.Fatalf("volume term for 1000 = %v, want ~0.5 on the log scale", vol.VolumeTerm)
	}
}

func TestCategoryFallbackToGeneral(t *testing.T) {
	s := NewScorer(Config{})
	known, err := s.Score(state("a", "ai", 100, 0.5, 5))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	unknown, err := s.Score(state("b", "weird_new_thing", 100, 0.5, 5))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	general, err := s.Score(state("c", "general", 100, 0.5, 5))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if unknown.CategoryTerm != general.CategoryTerm {
		t.Fatalf("unknown category term = %v, want general's %v", unknown.CategoryTerm, general.CategoryTerm)
	}
	if known.CategoryTerm <= unknown.CategoryTerm {
		t.Fatalf("ai term %v not above general %v", known.CategoryTerm, unknown.CategoryTerm)
	}
}

func TestLowConfidenceFlagDoesNotExclude(t *testing.T) {
	s := NewScorer(Config{MinObservations: 3})
	sc, err := s.Score(state("a", "ai", 100, 0.5, 1))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !sc.LowConfidence {
		t.Fatalf("1 observation with min 3 should flag low confidence")
	}
	eligible := Eligible([]Scored{sc}, 0.0)
	if len(eligible) != 1 {
		t.Fatalf("low confidence wrongly excluded from eligibility")
	}
}

func TestScoreAllFailsClosedOnMalformedMetrics(t *testing.T) {
	s := NewScorer(Config{})
	scored, skipped := s.ScoreAll([]storage.CandidateState{
		state("ok", "ai", 100, 0.5, 5),
		state("nan", "ai", 100, math.NaN(), 5),
		state("inf", "ai", 100, math.Inf(1), 5),
	})
	if len(scored) != 1 || scored[0].CandidateID != "ok" {
		t.Fatalf("scored = %+v, want only the well-formed candidate", scored)
	}
	if len(skipped) != 2 {
		t.Fatalf("skipped = %d, want 2", len(skipped))
	}
}

func TestEligibleAppliesMinScore(t *testing.T) {
	list := []Scored{
		{CandidateID: "hi", Score: 0.8},
		{CandidateID: "edge", Score: 0.05},
		{CandidateID: "lo", Score: 0.049},
	}
	out := Eligible(list, 0.05)
	if len(out) != 2 {
		t.Fatalf("eligible = %d, want 2 (threshold is inclusive)", len(out))
	}
	for _, sc := range out {
		if sc.CandidateID == "lo" {
			t.Fatalf("below-threshold candidate leaked through")
		}
	}
}

func TestScoreAllOrdersByScoreDescending(t *testing.T) {
	s := NewScorer(Config{})
	scored, _ := s.ScoreAll([]storage.CandidateState{
		state("low", "general", 10, 0.1, 5),
		state("high", "ai", 100_000, 0.9, 5),
		state("mid", "gaming", 5_000, 0.4, 5),
	})
	if len(scored) != 3 {
		t.Fatalf("scored = %d, want 3", len(scored))
	}
	for i := 1; i < len(scored); i++ {
		if scored[i-1].Score < scored[i].Score {
			t.Fatalf("order broken at %d: %v < %v", i, scored[i-1].Score, scored[i].Score)
		}
	}
	if scored[0].CandidateID != "high" {
		t.Fatalf("top = %s, want high", scored[0].CandidateID)
	}
}
