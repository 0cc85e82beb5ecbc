package app

import (
	"fmt"
	"strings"
	"time"

	"timesyncd/internal/config"
	"timesyncd/internal/netmon"
	"timesyncd/internal/scheduler"
	"timesyncd/internal/sntp"
	"timesyncd/internal/storage"
	"timesyncd/internal/timesync"
	logx "timesyncd/pkg/logx"
)

// Mapping from the on-disk config shape to per-service configs lives here so
// services never depend on the config package.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTimesyncConfig(cfg *config.Config) (timesync.Config, error) {
	update, err := config.ParseDurationOrDefault("timesync.update_interval", cfg.Timesync.UpdateInterval, 2*time.Hour)
	if err != nil {
		return timesync.Config{}, err
	}
	retryMin, err := config.ParseDurationOrDefault("timesync.retry_min", cfg.Timesync.RetryMin, time.Second)
	if err != nil {
		return timesync.Config{}, err
	}
	retryMax, err := config.ParseDurationOrDefault("timesync.retry_max", cfg.Timesync.RetryMax, 30*time.Second)
	if err != nil {
		return timesync.Config{}, err
	}
	if retryMax < retryMin {
		return timesync.Config{}, fmt.Errorf("timesync.retry_max: must be >= timesync.retry_min")
	}
	return timesync.Config{
		Enabled:        cfg.Timesync.Enabled,
		Server:         strings.TrimSpace(cfg.Timesync.Server),
		UpdateInterval: update,
		RetryMin:       retryMin,
		RetryMax:       retryMax,
	}, nil
}

func mapClientConfig(cfg *config.Config) (sntp.Config, error) {
	timeout, err := config.ParseDurationOrDefault("timesync.timeout", cfg.Timesync.Timeout, 10*time.Second)
	if err != nil {
		return sntp.Config{}, err
	}
	return sntp.Config{Timeout: timeout}, nil
}

func mapNetmonConfig(cfg *config.Config) (netmon.Config, error) {
	poll, err := config.ParseDurationOrDefault("netmon.poll_interval", cfg.Netmon.PollInterval, 5*time.Second)
	if err != nil {
		return netmon.Config{}, err
	}
	return netmon.Config{Enabled: cfg.Netmon.Enabled, PollInterval: poll}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}
