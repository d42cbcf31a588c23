package schedule

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadFirst wraps an interval schedule and pushes only the first fire out
// by a jitter, so cadences armed together at boot don't fire together. After
// the first fire it is a plain interval.
type spreadFirst struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadFirst) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq uint64

func spreadSchedule(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spread := every
	if spread > maxStartupSpread {
		spread = maxStartupSpread
	}
	if spread <= 0 {
		return base, 0
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(h.Sum64())
	jitter := time.Duration(rand.New(rand.NewSource(seed)).Int63n(int64(spread)))
	return &spreadFirst{base: base, first: now.Add(every + jitter)}, jitter
}
