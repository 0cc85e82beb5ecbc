//go:build !linux

package clock

import "time"

// System is a no-op on platforms without clock_settime. The daemon still
// exercises the full sync cycle; only the actual clock step is skipped.
type System struct{}

func (System) SetTime(t time.Time) error {
	_ = t
	return nil
}
