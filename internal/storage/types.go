package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SyncEvent records one sync attempt outcome.
// Keep it compact and schema-stable.
type SyncEvent struct {
	At     time.Time     `json:"at"`
	Server string        `json:"server"`
	OK     bool          `json:"ok"`
	Delta  time.Duration `json:"delta_ns"`
	RTT    time.Duration `json:"rtt_ns"`
	Error  string        `json:"error,omitempty"`
}

// Store is the minimal persistence API used by the sync service.
type Store interface {
	AppendSync(ctx context.Context, e SyncEvent) error
	// RecentSyncs returns up to n most recent events, newest first.
	RecentSyncs(ctx context.Context, n int) ([]SyncEvent, error)
	Close() error
}
