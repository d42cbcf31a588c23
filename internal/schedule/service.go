// Package schedule registers named cadences and fires their triggers.
//
// The service is trigger-only: a fired trigger calls the registered func,
// which hands off to the engine's queue and returns immediately. Execution,
// serialization and overlap policy all live behind that queue, not here.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"trendbot/internal/eventbus"
	logx "trendbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Config controls the cadence trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Amsterdam"; empty = local
}

type scheduleDef struct {
	id            string
	name          string
	spec          string // normalized cron spec or "@every d"
	trigger       func() error
	entryID       cron.EntryID
	startupSpread time.Duration // initial extra delay for @every schedules
}

// TriggerInfo describes one registered cadence for status output.
type TriggerInfo struct {
	ID            string
	Name          string
	Spec          string
	Next          time.Time
	Prev          time.Time
	StartupSpread time.Duration
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// Trigger error throttling, keyed by schedule name.
	emu      sync.Mutex
	lastWarn map[string]time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional accepts both 5-field and 6-field cron specs.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		lastWarn: map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply updates the config. A timezone change restarts the cron runner and
// re-registers every cadence in the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		s.restartLocked()
	}
}

// AddTrigger parses spec and registers trigger under name, replacing any
// previous registration with the same name. Registration before Start is
// fine; the cadence becomes live when Start runs.
func (s *Service) AddTrigger(name, spec string, trigger func() error) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if trigger == nil {
		return errors.New("trigger required")
	}
	ps, err := ParseSpec(spec)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Upsert by name so hot reloads don't stack duplicate cadences.
	s.removeLocked(name)
	d := scheduleDef{
		id:      fmt.Sprintf("%s:%d", name, time.Now().UnixNano()),
		name:    name,
		spec:    ps.Normalized(),
		trigger: trigger,
	}
	s.defs = append(s.defs, d)
	if s.c == nil {
		return nil
	}
	if err := s.registerLocked(&s.defs[len(s.defs)-1]); err != nil {
		s.log.Error("cadence register failed", logx.String("name", name), logx.String("spec", d.spec), logx.Err(err))
		return err
	}
	s.log.Debug("cadence registered", logx.String("name", name), logx.String("spec", d.spec))
	return nil
}

// Remove unregisters the named cadence. It reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("cadence removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// Start begins firing triggers. Idempotent.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	loc := s.locationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		if err := s.registerLocked(&s.defs[i]); err != nil {
			s.log.Error("cadence register failed", logx.String("name", s.defs[i].name), logx.String("spec", s.defs[i].spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("cadence service started", logx.String("tz", loc.String()), logx.Int("cadences", len(s.defs)))
}

// Stop stops firing triggers and waits for in-flight trigger funcs, bounded
// by ctx. Registered definitions survive Stop and re-arm on the next Start.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("cadence service stopped")
}

// registerLocked arms one definition on the running cron instance.
// Interval specs get a small randomized startup spread so several cadences
// registered at boot don't all fire in the same instant.
func (s *Service) registerLocked(d *scheduleDef) error {
	// Upserts compact and append s.defs, which moves defs between slots.
	// The armed closure must capture by value, never read through d.
	name, trigger := d.name, d.trigger
	job := cron.FuncJob(func() {
		s.fire(name, trigger)
	})

	if every, ok := intervalOf(d.spec); ok {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		sched, jitter := spreadSchedule(every, time.Now().In(loc), name)
		d.startupSpread = jitter
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}

	d.startupSpread = 0
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func intervalOf(spec string) (time.Duration, bool) {
	if !strings.HasPrefix(spec, "@every") {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// restartLocked rebuilds the cron runner in the current timezone. Call with
// s.mu held and s.c non-nil.
func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	loc := s.locationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		if err := s.registerLocked(&s.defs[i]); err != nil {
			s.log.Error("cadence register failed", logx.String("name", s.defs[i].name), logx.String("spec", s.defs[i].spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("cadence service restarted", logx.String("tz", loc.String()), logx.Int("cadences", len(s.defs)))
}

func (s *Service) locationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

const triggerWarnThrottle = 5 * time.Second

// fire runs one trigger func and reports trouble. A trigger hand-off is
// non-blocking, so errors mean the engine is stopped or saturated; those are
// warned with per-name throttling since cadences repeat.
func (s *Service) fire(name string, trigger func() error) {
	err := trigger()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "schedule.fired", Data: map[string]any{"name": name, "ok": err == nil}})
	}
	if err == nil {
		return
	}

	now := time.Now()
	s.emu.Lock()
	last := s.lastWarn[name]
	if !last.IsZero() && now.Sub(last) < triggerWarnThrottle {
		s.emu.Unlock()
		return
	}
	s.lastWarn[name] = now
	s.emu.Unlock()

	s.log.Warn("trigger failed", logx.String("cadence", name), logx.Err(err))
}

// Snapshot lists the registered cadences with their next/previous fire times.
func (s *Service) Snapshot() []TriggerInfo {
	s.mu.Lock()
	defs := make([]scheduleDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	s.mu.Unlock()

	out := make([]TriggerInfo, 0, len(defs))
	for _, d := range defs {
		it := TriggerInfo{ID: d.id, Name: d.name, Spec: d.spec, StartupSpread: d.startupSpread}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		out = append(out, it)
	}
	return out
}
