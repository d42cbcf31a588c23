// Package scoring computes the composite candidate score used for
// eligibility and for warm-starting untried arms.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"trendbot/internal/storage"
)

// Defaults used when config fields are zero.
const (
	DefaultMinObservations = 3
	DefaultGrowthRef       = 1.0
	DefaultVolumeCeiling   = 1_000_000

	defaultGrowthWeight   = 0.5
	defaultVolumeWeight   = 0.3
	defaultCategoryWeight = 0.2
)

// DefaultCategoryWeights is the built-in category preference map.
// "general" is the fallback for unknown categories and must stay present.
func DefaultCategoryWeights() map[string]float64 {
	return map[string]float64{
		"ai":       2.2,
		"gpu_tech": 2.0,
		"crypto":   1.8,
		"gaming":   1.6,
		"trending": 1.5,
		"general":  1.0,
	}
}

type Config struct {
	MinObservations int
	MinScore        float64

	GrowthWeight   float64
	VolumeWeight   float64
	CategoryWeight float64

	GrowthRef     float64
	VolumeCeiling int64

	CategoryWeights map[string]float64
}

// normalized returns a copy with defaults filled in and the three term
// weights scaled to sum to 1, which keeps every score inside [0,1].
func (c Config) normalized() Config {
	out := c
	if out.MinObservations <= 0 {
		out.MinObservations = DefaultMinObservations
	}
	if out.GrowthRef <= 0 {
		out.GrowthRef = DefaultGrowthRef
	}
	if out.VolumeCeiling <= 0 {
		out.VolumeCeiling = DefaultVolumeCeiling
	}
	sum := out.GrowthWeight + out.VolumeWeight + out.CategoryWeight
	if sum <= 0 {
		out.GrowthWeight = defaultGrowthWeight
		out.VolumeWeight = defaultVolumeWeight
		out.CategoryWeight = defaultCategoryWeight
	} else {
		out.GrowthWeight /= sum
		out.VolumeWeight /= sum
		out.CategoryWeight /= sum
	}
	if len(out.CategoryWeights) == 0 {
		out.CategoryWeights = DefaultCategoryWeights()
	}
	return out
}

// Scored is one candidate with its composite score and term breakdown.
type Scored struct {
	CandidateID string
	Topic       string
	Category    string

	Score        float64
	GrowthTerm   float64
	VolumeTerm   float64
	CategoryTerm float64

	Observations  int
	LowConfidence bool
}

// Skipped names a candidate dropped because its metrics were unusable.
type Skipped struct {
	CandidateID string
	Topic       string
	Reason      string
}

type Scorer struct {
	mu     sync.Mutex
	cfg    Config
	maxCat float64
}

func NewScorer(cfg Config) *Scorer {
	s := &Scorer{}
	s.Apply(cfg)
	return s
}

// Apply swaps the scoring tunables; the next cycle scores with them.
func (s *Scorer) Apply(cfg Config) {
	n := cfg.normalized()
	maxCat := 0.0
	for _, w := range n.CategoryWeights {
		if w > maxCat {
			maxCat = w
		}
	}
	s.mu.Lock()
	s.cfg = n
	s.maxCat = maxCat
	s.mu.Unlock()
}

func (s *Scorer) config() (Config, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.maxCat
}

// Score computes the composite score for one candidate state. Malformed
// metrics produce an error so the candidate fails closed rather than
// entering selection with a bogus score.
func (s *Scorer) Score(cs storage.CandidateState) (Scored, error) {
	cfg, maxCat := s.config()
	return score(cfg, maxCat, cs)
}

func score(cfg Config, maxCat float64, cs storage.CandidateState) (Scored, error) {
	growth := cs.Latest.Growth
	if math.IsNaN(growth) || math.IsInf(growth, 0) {
		return Scored{}, fmt.Errorf("candidate %q: growth is not finite", cs.Topic)
	}
	if cs.Latest.Volume < 0 {
		return Scored{}, fmt.Errorf("candidate %q: negative volume", cs.Topic)
	}

	g := clamp01(growth / cfg.GrowthRef)
	v := clamp01(math.Log10(1+float64(cs.Latest.Volume)) / math.Log10(1+float64(cfg.VolumeCeiling)))
	c := categoryTerm(cfg, maxCat, cs.Category)

	sc := Scored{
		CandidateID:   cs.ID,
		Topic:         cs.Topic,
		Category:      cs.Category,
		GrowthTerm:    g,
		VolumeTerm:    v,
		CategoryTerm:  c,
		Observations:  cs.Observations,
		LowConfidence: cs.Observations < cfg.MinObservations,
	}
	sc.Score = cfg.GrowthWeight*g + cfg.VolumeWeight*v + cfg.CategoryWeight*c
	return sc, nil
}

// ScoreAll scores every candidate, collecting the unusable ones separately.
// Results are ordered by score descending (ties by candidate id for
// determinism). The whole batch is scored under one config snapshot.
func (s *Scorer) ScoreAll(states []storage.CandidateState) ([]Scored, []Skipped) {
	cfg, maxCat := s.config()
	scored := make([]Scored, 0, len(states))
	var skipped []Skipped
	for _, cs := range states {
		sc, err := score(cfg, maxCat, cs)
		if err != nil {
			skipped = append(skipped, Skipped{CandidateID: cs.ID, Topic: cs.Topic, Reason: err.Error()})
			continue
		}
		scored = append(scored, sc)
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].CandidateID < scored[j].CandidateID
	})
	return scored, skipped
}

// Eligible filters scored candidates by the minimum score threshold.
// Low-confidence candidates stay eligible; the flag is advisory.
func Eligible(scored []Scored, minScore float64) []Scored {
	if minScore <= 0 {
		return scored
	}
	out := make([]Scored, 0, len(scored))
	for _, sc := range scored {
		if sc.Score >= minScore {
			out = append(out, sc)
		}
	}
	return out
}

func categoryTerm(cfg Config, maxCat float64, category string) float64 {
	if maxCat <= 0 {
		return 0
	}
	w, ok := cfg.CategoryWeights[category]
	if !ok {
		w = cfg.CategoryWeights["general"]
	}
	return clamp01(w / maxCat)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
