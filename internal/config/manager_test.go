package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const minimalYAML = `
engine:
  enabled: false
storage:
  path: /tmp/trendbot-test.db
`

func TestLoadParsesYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
engine:
  enabled: true
  cycle: "interval:20m"
  timezone: UTC
scoring:
  min_score: 0.3
trends:
  base_url: http://localhost:9001
publisher:
  base_url: http://localhost:9002
analytics:
  base_url: http://localhost:9003
storage:
  path: /tmp/bot.db
  busy_timeout: 7s
`)
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Engine.Enabled || cfg.Engine.Cycle != "interval:20m" {
		t.Fatalf("engine section = %+v", cfg.Engine)
	}
	if cfg.Scoring.MinScore != 0.3 {
		t.Fatalf("scoring.min_score = %v, want 0.3", cfg.Scoring.MinScore)
	}
	if cfg.Storage.BusyTimeout != "7s" {
		t.Fatalf("storage.busy_timeout = %q, want 7s", cfg.Storage.BusyTimeout)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return the committed config")
	}
}

func TestLoadParsesJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.json",
		`{"engine":{"enabled":false},"storage":{"path":"/tmp/bot.db"}}`)
	if _, err := NewConfigManager(path).Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestParseRejectsUnknownKey(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
engine:
  enabled: false
  warp_speed: true
storage:
  path: /tmp/bot.db
`)
	if _, err := NewConfigManager(path).Parse(); err == nil || !strings.Contains(err.Error(), "warp_speed") {
		t.Fatalf("err = %v, want unknown-field rejection naming warp_speed", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.json",
		`{"storage":{"path":"/tmp/bot.db"}}{"extra":1}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatalf("want trailing-data rejection")
	}
}

func TestLoadRejectsRangeViolation(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
gate:
  max_actions_per_day: 99
storage:
  path: /tmp/bot.db
`)
	if _, err := NewConfigManager(path).Load(); err == nil || !strings.Contains(err.Error(), "gate.max_actions_per_day") {
		t.Fatalf("err = %v, want range violation naming gate.max_actions_per_day", err)
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	m := NewConfigManager("unused")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("got %p, want newest %p", got, b)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after Unsubscribe")
	}
}

func TestWatchAppliesValidEditAndKeepsConfigOnInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", minimalYAML)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Watcher registration is asynchronous; edits before it lands are lost.
	time.Sleep(300 * time.Millisecond)

	// A rejected edit must leave the running config in place.
	writeFile(t, dir, "config.yaml", minimalYAML+"  snapshot_retention: 0s\n")
	time.Sleep(800 * time.Millisecond)
	if got := m.Get(); got.Storage.SnapshotRetention != "" {
		t.Fatalf("rejected edit was committed: %+v", got.Storage)
	}

	writeFile(t, dir, "config.yaml", minimalYAML+"  busy_timeout: 9s\n")
	select {
	case cfg := <-sub:
		if cfg.Storage.BusyTimeout != "9s" {
			t.Fatalf("published config = %+v, want busy_timeout 9s", cfg.Storage)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("valid edit was never published")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Watch did not return after cancel")
	}
}
