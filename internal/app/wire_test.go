package app

import (
	"strings"
	"testing"
	"time"

	"trendbot/internal/config"
	"trendbot/internal/engine"
	"trendbot/internal/schedule"
	logx "trendbot/pkg/logx"
)

func TestMapEngineConfigGathersSections(t *testing.T) {
	cfg := &Config{}
	cfg.Engine.Enabled = true
	cfg.Engine.QueueSize = 8
	cfg.Scoring.Freshness = "45m"
	cfg.Scoring.MinScore = 0.25
	cfg.Storage.SnapshotRetention = "72h"

	ec, err := mapEngineConfig(cfg)
	if err != nil {
		t.Fatalf("mapEngineConfig: %v", err)
	}
	if !ec.Enabled || ec.QueueSize != 8 {
		t.Fatalf("engine section not carried: %+v", ec)
	}
	if ec.Freshness != 45*time.Minute {
		t.Fatalf("Freshness = %v, want 45m", ec.Freshness)
	}
	if ec.MinScore != 0.25 {
		t.Fatalf("MinScore = %v, want 0.25", ec.MinScore)
	}
	if ec.SnapshotRetention != 72*time.Hour {
		t.Fatalf("SnapshotRetention = %v, want 72h", ec.SnapshotRetention)
	}
}

func TestMapEngineConfigNamesBadField(t *testing.T) {
	cfg := &Config{}
	cfg.Scoring.Freshness = "soon"
	if _, err := mapEngineConfig(cfg); err == nil || !strings.Contains(err.Error(), "scoring.freshness") {
		t.Fatalf("err = %v, want mention of scoring.freshness", err)
	}
}

func TestMapBanditConfigEpsilonPointer(t *testing.T) {
	cfg := &Config{}
	bc, err := mapBanditConfig(cfg)
	if err != nil {
		t.Fatalf("omitted epsilon: %v", err)
	}
	if bc.Epsilon != defaultEpsilon {
		t.Fatalf("omitted epsilon = %v, want %v", bc.Epsilon, defaultEpsilon)
	}

	zero := 0.0
	cfg.Bandit.Epsilon = &zero
	if bc, err = mapBanditConfig(cfg); err != nil || bc.Epsilon != 0 {
		t.Fatalf("explicit 0 epsilon = %v (err %v), want 0", bc.Epsilon, err)
	}

	hot := 0.9
	cfg.Bandit.Epsilon = &hot
	if bc, err = mapBanditConfig(cfg); err != nil || bc.Epsilon != 0.9 {
		t.Fatalf("epsilon = %v (err %v), want 0.9", bc.Epsilon, err)
	}

	cfg.Bandit.Cooldown = "whenever"
	if _, err = mapBanditConfig(cfg); err == nil || !strings.Contains(err.Error(), "bandit.cooldown") {
		t.Fatalf("err = %v, want mention of bandit.cooldown", err)
	}
}

func TestMapAlertConfigDedupWindow(t *testing.T) {
	cfg := &Config{}
	ac, err := mapAlertConfig(cfg)
	if err != nil {
		t.Fatalf("nil section: %v", err)
	}
	if ac.Enabled {
		t.Fatalf("nil alerts section should map to disabled, got %+v", ac)
	}

	cfg.Alerts = &config.AlertsConfig{Enabled: true, ChatID: 42}
	if ac, err = mapAlertConfig(cfg); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if ac.DedupWindow != 10*time.Minute {
		t.Fatalf("omitted dedup_window = %v, want 10m default", ac.DedupWindow)
	}

	cfg.Alerts.DedupWindow = "0s"
	if ac, err = mapAlertConfig(cfg); err != nil {
		t.Fatalf("explicit 0s: %v", err)
	}
	if ac.DedupWindow != 0 {
		t.Fatalf("explicit 0s dedup_window = %v, want 0 (disabled)", ac.DedupWindow)
	}
}

func TestMapGateConfigNamesBadField(t *testing.T) {
	cfg := &Config{}
	cfg.Gate.MinSpacing = "a while"
	if _, err := mapGateConfig(cfg); err == nil || !strings.Contains(err.Error(), "gate.min_spacing") {
		t.Fatalf("err = %v, want mention of gate.min_spacing", err)
	}
}

func TestCadencesFillDefaults(t *testing.T) {
	cs := cadences(config.EngineConfig{})
	if len(cs) != 5 {
		t.Fatalf("got %d cadences, want 5", len(cs))
	}
	want := map[string]string{
		"engine.cycle":     "interval:15m",
		"engine.sweep":     "interval:5m",
		"engine.reconcile": "interval:30m",
		"engine.ingest":    "interval:10m",
		"engine.prune":     "@daily",
	}
	for _, c := range cs {
		if want[c.name] != c.spec {
			t.Fatalf("%s spec = %q, want %q", c.name, c.spec, want[c.name])
		}
	}

	cs = cadences(config.EngineConfig{Cycle: "interval:1h"})
	if cs[0].spec != "interval:1h" {
		t.Fatalf("override spec = %q, want interval:1h", cs[0].spec)
	}
}

func TestValidateCadencesNamesOffender(t *testing.T) {
	if err := validateCadences(config.EngineConfig{}); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	err := validateCadences(config.EngineConfig{Sweep: "every other day"})
	if err == nil || !strings.Contains(err.Error(), "engine.sweep") {
		t.Fatalf("err = %v, want mention of engine.sweep", err)
	}
}

func TestRegisterCadencesUpsertsAll(t *testing.T) {
	a := &App{
		engine: engine.New(engine.Config{}, engine.Deps{Log: logx.Nop()}),
		sched:  schedule.New(schedule.Config{Enabled: true}, logx.Nop(), nil),
	}
	if err := a.registerCadences(config.EngineConfig{}); err != nil {
		t.Fatalf("registerCadences: %v", err)
	}
	snap := a.sched.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("scheduler has %d triggers, want 5: %+v", len(snap), snap)
	}

	err := a.registerCadences(config.EngineConfig{Cycle: "never"})
	if err == nil || !strings.Contains(err.Error(), "engine.cycle") {
		t.Fatalf("err = %v, want mention of engine.cycle", err)
	}
}
