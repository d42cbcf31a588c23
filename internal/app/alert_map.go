package app

import (
	"strings"
	"time"

	"trendbot/internal/alert"
	logx "trendbot/pkg/logx"
)

func mapLoggingConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapAlertConfig maps the alerts section into the runtime alert.Config.
// An omitted section means disabled; worker/queue/retry defaults live in the
// alert service itself.
func mapAlertConfig(cfg *Config) (alert.Config, error) {
	ac := cfg.Alerts
	if ac == nil {
		return alert.Config{}, nil
	}

	retryBase, err := parseDurationField("alerts.retry_base", ac.RetryBase)
	if err != nil {
		return alert.Config{}, err
	}
	retryMaxDelay, err := parseDurationField("alerts.retry_max_delay", ac.RetryMaxDelay)
	if err != nil {
		return alert.Config{}, err
	}

	// Default the dedup window on, but honor an explicit "0s" (disabled).
	dedupWindow := 10 * time.Minute
	if strings.TrimSpace(ac.DedupWindow) != "" {
		dedupWindow, err = parseDurationField("alerts.dedup_window", ac.DedupWindow)
		if err != nil {
			return alert.Config{}, err
		}
	}

	return alert.Config{
		Enabled:         ac.Enabled,
		ChatID:          ac.ChatID,
		Workers:         ac.Workers,
		QueueSize:       ac.QueueSize,
		RatePerSec:      ac.RatePerSec,
		RetryMax:        ac.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: ac.DedupMaxEntries,
		PersistDedup:    ac.PersistDedup,
	}, nil
}
