package config

type Config struct {
	Timesync  TimesyncConfig  `json:"timesync"`
	Netmon    NetmonConfig    `json:"netmon"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

// TimesyncConfig controls the clock synchronization service.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2h").
//
// Defaults (when fields are omitted/zero):
//   - update_interval: "2h"
//   - retry_min: "1s"
//   - retry_max: "30s"
//   - timeout: "10s"
type TimesyncConfig struct {
	Enabled bool   `json:"enabled"`
	Server  string `json:"server"`

	// UpdateInterval is the steady-state resync cadence once the clock has
	// been set at least once.
	UpdateInterval string `json:"update_interval,omitempty"`

	// RetryMin/RetryMax bound the exponential retry backoff used before the
	// first successful sync.
	RetryMin string `json:"retry_min,omitempty"`
	RetryMax string `json:"retry_max,omitempty"`

	// Timeout bounds a single server exchange.
	Timeout string `json:"timeout,omitempty"`

	// ResyncSchedule is an optional cron spec (scheduler timezone) that
	// forces an immediate sync attempt, e.g. "0 3 * * *" for a nightly
	// hard resync. Requires scheduler.enabled.
	ResyncSchedule string `json:"resync_schedule,omitempty"`
}

// NetmonConfig controls the network reachability monitor that triggers an
// immediate sync attempt when the device gains an address.
type NetmonConfig struct {
	Enabled bool `json:"enabled"`
	// PollInterval is a Go duration string; default "5s".
	PollInterval string `json:"poll_interval,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the deferred-work scheduler service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone (IANA TZ, e.g. "Asia/Jakarta").
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional sync-history persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./timesyncd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
