package trend

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"trendbot/internal/storage"
	logx "trendbot/pkg/logx"
)

func newTestIngestor(t *testing.T) (*Ingestor, *storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewIngestor(st, logx.Nop()), st
}

func TestCandidateIDIsStableAndCaseInsensitive(t *testing.T) {
	a := CandidateID("Quantum Breakthrough")
	b := CandidateID("  quantum breakthrough ")
	if a != b {
		t.Fatalf("ids differ for same topic: %s vs %s", a, b)
	}
	if a == CandidateID("other topic") {
		t.Fatalf("distinct topics collided")
	}
}

func TestIngestSkipsInvalidWithoutAborting(t *testing.T) {
	in, st := newTestIngestor(t)
	now := time.Now()

	obs := []Observation{
		{Topic: "good one", Category: "AI", Volume: 1000, Growth: 0.4, SeenAt: now},
		{Topic: "", Volume: 10, Growth: 0.1, SeenAt: now},                                  // empty topic
		{Topic: "neg volume", Volume: -5, Growth: 0.1, SeenAt: now},                        // negative volume
		{Topic: "nan growth", Volume: 5, Growth: math.NaN(), SeenAt: now},                  // malformed metric
		{Topic: "inf growth", Volume: 5, Growth: math.Inf(1), SeenAt: now},                 // malformed metric
		{Topic: "good two", Category: "", Volume: 50, Growth: 0.2, SeenAt: now},            // empty category -> general
	}
	rep, err := in.Ingest(context.Background(), obs)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if rep.Ingested != 2 || rep.Skipped != 4 {
		t.Fatalf("report = %+v, want 2 ingested / 4 skipped", rep)
	}

	states, err := st.CandidateStates(context.Background(), now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("candidate states: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("stored candidates = %d, want 2", len(states))
	}
	byTopic := map[string]storage.CandidateState{}
	for _, s := range states {
		byTopic[s.Topic] = s
	}
	if got := byTopic["good one"].Category; got != "ai" {
		t.Fatalf("category = %q, want normalized %q", got, "ai")
	}
	if got := byTopic["good two"].Category; got != "general" {
		t.Fatalf("empty category = %q, want fallback %q", got, "general")
	}

	arms, err := st.Arms(context.Background())
	if err != nil {
		t.Fatalf("arms: %v", err)
	}
	if len(arms) != 2 {
		t.Fatalf("arms = %d, want one per ingested candidate", len(arms))
	}
}

func TestIngestAccumulatesHistoryForSameTopic(t *testing.T) {
	in, st := newTestIngestor(t)
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		_, err := in.Ingest(context.Background(), []Observation{{
			Topic: "repeat", Category: "crypto", Volume: int64(100 * (i + 1)),
			Growth: 0.1 * float64(i+1), SeenAt: base.Add(time.Duration(i) * time.Minute),
		}})
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	states, err := st.CandidateStates(context.Background(), base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("candidate states: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("candidates = %d, want 1 (same topic, same id)", len(states))
	}
	s := states[0]
	if s.Observations != 3 {
		t.Fatalf("observations = %d, want 3", s.Observations)
	}
	if s.Latest.Volume != 300 {
		t.Fatalf("latest volume = %d, want newest snapshot's 300", s.Latest.Volume)
	}
}
