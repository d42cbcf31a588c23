package app

import (
	"strings"
	"time"

	pprofsvc "trendbot/internal/observability/pprof"
)

// mapPprofConfig validates and converts the pprof section into the service
// config. It never starts the server.
func mapPprofConfig(cfg *Config) (pprofsvc.Config, error) {
	pc := cfg.Pprof

	readTO, err := parseDurationOrDefault("pprof.read_timeout", pc.ReadTimeout, 5*time.Second)
	if err != nil {
		return pprofsvc.Config{}, err
	}
	// WriteTimeout stays 0 unless set: /debug/pprof/profile holds the
	// response open for the whole capture.
	writeTO, err := parseDurationField("pprof.write_timeout", pc.WriteTimeout)
	if err != nil {
		return pprofsvc.Config{}, err
	}
	idleTO, err := parseDurationOrDefault("pprof.idle_timeout", pc.IdleTimeout, 120*time.Second)
	if err != nil {
		return pprofsvc.Config{}, err
	}

	return pprofsvc.Config{
		Enabled:      pc.Enabled,
		Addr:         strings.TrimSpace(pc.Addr),
		ReadTimeout:  readTO,
		WriteTimeout: writeTO,
		IdleTimeout:  idleTO,
	}, nil
}
