package pprof

import (
	"context"
	"net/http"
	"testing"
	"time"

	logx "trendbot/pkg/logx"
)

func listenAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		ln := s.ln
		s.mu.Unlock()
		if ln != nil {
			return ln.Addr().String()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("server never listened")
	return ""
}

func TestServeLoopbackAndStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	addr := listenAddr(t, s)
	resp, err := http.Get("http://" + addr + "/debug/pprof/")
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index status = %d, want 200", resp.StatusCode)
	}

	s.Stop(ctx)
	if _, err := http.Get("http://" + addr + "/debug/pprof/"); err == nil {
		t.Fatalf("server still reachable after stop")
	}
}

func TestApplyTogglesServer(t *testing.T) {
	s := New(Config{Enabled: false}, logx.Nop())
	ctx := context.Background()

	s.Start(ctx)
	s.mu.Lock()
	running := s.sup != nil
	s.mu.Unlock()
	if running {
		t.Fatalf("disabled service started a supervisor")
	}

	s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	addr := listenAddr(t, s)
	if addr == "" {
		t.Fatalf("apply did not start the server")
	}

	s.Apply(ctx, Config{Enabled: false})
	s.mu.Lock()
	stopped := s.sup == nil && s.srv == nil
	s.mu.Unlock()
	if !stopped {
		t.Fatalf("apply did not stop the server")
	}
}

func TestLoopbackGuard(t *testing.T) {
	cases := []struct {
		addr string
		ok   bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{"192.168.1.10:6060", false},
		{":6060", false},
		{"no-port", false},
	}
	for _, c := range cases {
		if got := isLoopbackAddr(c.addr); got != c.ok {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", c.addr, got, c.ok)
		}
	}
}
