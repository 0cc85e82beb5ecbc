package timesync

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"timesyncd/internal/clock"
	"timesyncd/internal/sntp"
	"timesyncd/internal/storage"
	logx "timesyncd/pkg/logx"
)

// ErrServerRequired is returned by New when the service is enabled without a
// server address.
var ErrServerRequired = errors.New("timesync: server is required when enabled")

// Config controls the sync service.
type Config struct {
	Enabled bool
	Server  string

	// UpdateInterval is the steady-state cadence once synced. Default 2h.
	UpdateInterval time.Duration
	// RetryMin/RetryMax bound the pre-sync exponential backoff.
	// Defaults 1s / 30s.
	RetryMin time.Duration
	RetryMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = 2 * time.Hour
	}
	if c.RetryMin <= 0 {
		c.RetryMin = time.Second
	}
	if c.RetryMax < c.RetryMin {
		c.RetryMax = 30 * time.Second
		if c.RetryMax < c.RetryMin {
			c.RetryMax = c.RetryMin
		}
	}
	return c
}

// ObserverFunc receives the signed clock-step delta applied on a successful
// sync. Observers run synchronously on the goroutine that handled the reply;
// they must not block.
type ObserverFunc func(delta time.Duration)

// Deps are the collaborators injected into the service.
type Deps struct {
	Client sntp.Client
	Setter clock.Setter
	Clock  clock.Clock

	// Store records attempt outcomes. Optional.
	Store storage.Store
	// KickLimiter bounds immediate-attempt bursts from link flapping.
	// Optional; New installs a default when nil.
	KickLimiter *rate.Limiter

	Log logx.Logger
}

// Status is a point-in-time snapshot for diagnostics.
type Status struct {
	Enabled   bool          `json:"enabled"`
	Synced    bool          `json:"synced"`
	InFlight  bool          `json:"in_flight"`
	Armed     bool          `json:"armed"`
	Backoff   time.Duration `json:"backoff"`
	LastSync  time.Time     `json:"last_sync"`
	LastDelta time.Duration `json:"last_delta"`
	Attempts  uint64        `json:"attempts"`
	Failures  uint64        `json:"failures"`
}
