package app

import (
	"fmt"
	"strings"

	"trendbot/internal/storage"
)

// mapStorageConfig maps the storage section into the runtime storage.Config.
// Storage is mandatory: the action log is the durable source of truth for the
// compliance window, so a missing path refuses to start.
func mapStorageConfig(cfg *Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	busy, err := parseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}
