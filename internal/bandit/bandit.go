// Package bandit implements the epsilon-greedy selection policy over
// scored candidates and their reward statistics.
package bandit

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"trendbot/internal/storage"
)

// ErrNoEligibleCandidates means the round should be skipped: either nothing
// passed scoring, or every arm is inside its exploitation cool-down.
var ErrNoEligibleCandidates = errors.New("no eligible candidates")

// Defaults used when config fields are zero.
const (
	DefaultEpsilon     = 0.1
	DefaultConfidenceZ = 1.96
)

type Config struct {
	// Epsilon is the probability of exploring. 0 means pure exploitation.
	Epsilon float64

	// Cooldown excludes arms selected more recently than this from the
	// exploitation set. 0 disables the cool-down. Exploration always uses
	// the full eligible set so a cooled-down arm can still be drawn.
	Cooldown time.Duration

	// ConfidenceZ scales the reported confidence bound z/sqrt(n).
	ConfidenceZ float64
}

func (c Config) normalized() Config {
	out := c
	if out.Epsilon < 0 {
		out.Epsilon = 0
	}
	if out.Epsilon > 1 {
		out.Epsilon = 1
	}
	if out.Cooldown < 0 {
		out.Cooldown = 0
	}
	if out.ConfidenceZ <= 0 {
		out.ConfidenceZ = DefaultConfidenceZ
	}
	return out
}

// Candidate is one eligible candidate entering a selection round.
type Candidate struct {
	ID    string
	Score float64
	Arm   storage.Arm
}

// Selection is the outcome of one round. Epsilon is the exploration
// probability the round was drawn with, so the caller can persist the
// evidence the policy actually used.
type Selection struct {
	CandidateID string
	Mode        string // storage.ModeExplore or storage.ModeExploit
	Score       float64
	Estimate    float64
	Confidence  float64
	Epsilon     float64
}

type Selector struct {
	// mu guards cfg (hot reload) and rng (not safe for concurrent use).
	mu  sync.Mutex
	cfg Config
	rng *rand.Rand
}

func NewSelector(cfg Config) *Selector {
	return &Selector{
		cfg: cfg.normalized(),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Apply swaps the policy tunables; the next round uses them.
func (s *Selector) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.normalized()
	s.mu.Unlock()
}

func (s *Selector) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Epsilon reports the exploration probability in effect; decisions record it
// alongside the estimate they were made on.
func (s *Selector) Epsilon() float64 {
	return s.config().Epsilon
}

// Select runs one epsilon-greedy round over the eligible candidates.
//
// With probability epsilon it explores: a uniform draw over the whole
// eligible set. Otherwise it exploits: the best estimate among arms outside
// their cool-down, where an arm with realized rewards is estimated by its
// average reward and an untried arm warm-starts from its composite score.
// Ties go to the higher score, then the smaller id so rounds are
// reproducible.
func (s *Selector) Select(now time.Time, cands []Candidate) (Selection, error) {
	if len(cands) == 0 {
		return Selection{}, ErrNoEligibleCandidates
	}
	cfg := s.config()

	if s.draw() < cfg.Epsilon {
		pick := cands[s.pick(len(cands))]
		return selection(pick, storage.ModeExplore, cfg), nil
	}

	best := -1
	for i, c := range cands {
		if cooling(now, c.Arm, cfg.Cooldown) {
			continue
		}
		if best < 0 || betterExploit(c, cands[best]) {
			best = i
		}
	}
	if best < 0 {
		return Selection{}, ErrNoEligibleCandidates
	}
	return selection(cands[best], storage.ModeExploit, cfg), nil
}

// Estimate is the value an exploit round maximizes: the arm's average
// realized reward, or the composite score while the arm is untried.
func Estimate(c Candidate) float64 {
	if c.Arm.SelectionCount > 0 {
		return c.Arm.AverageReward
	}
	return c.Score
}

// Confidence returns the z/sqrt(n) bound for an arm; it shrinks strictly as
// observations accumulate.
func (s *Selector) Confidence(a storage.Arm) float64 {
	return confidence(a, s.config().ConfidenceZ)
}

func confidence(a storage.Arm, z float64) float64 {
	n := a.SelectionCount
	if n < 1 {
		n = 1
	}
	return z / math.Sqrt(float64(n))
}

func cooling(now time.Time, a storage.Arm, cooldown time.Duration) bool {
	if cooldown <= 0 || a.LastSelected.IsZero() {
		return false
	}
	return now.Sub(a.LastSelected) < cooldown
}

func betterExploit(a, b Candidate) bool {
	ea, eb := Estimate(a), Estimate(b)
	if ea != eb {
		return ea > eb
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

func selection(c Candidate, mode string, cfg Config) Selection {
	return Selection{
		CandidateID: c.ID,
		Mode:        mode,
		Score:       c.Score,
		Estimate:    Estimate(c),
		Confidence:  confidence(c.Arm, cfg.ConfidenceZ),
		Epsilon:     cfg.Epsilon,
	}
}

func (s *Selector) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Selector) pick(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}
