package timesync

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"timesyncd/internal/clock"
	"timesyncd/internal/sntp"
)

// fakeSession records close requests.
type fakeSession struct {
	closed atomic.Bool
}

func (s *fakeSession) Close() { s.closed.Store(true) }

// fakeClient hands out sessions and lets tests deliver events manually, so
// interleavings are fully deterministic.
type fakeClient struct {
	mu         sync.Mutex
	connectErr error
	sessions   []*fakeSession
	callbacks  []func(sntp.Event)
}

func (c *fakeClient) Connect(server string, onEvent func(sntp.Event)) (sntp.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	s := &fakeSession{}
	c.sessions = append(c.sessions, s)
	c.callbacks = append(c.callbacks, onEvent)
	return s, nil
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *fakeClient) session(i int) *fakeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[i]
}

// deliver sends an event on behalf of session i.
func (c *fakeClient) deliver(i int, e sntp.Event) {
	c.mu.Lock()
	cb := c.callbacks[i]
	c.mu.Unlock()
	cb(e)
}

// fail delivers the standard failure outcome followed by the close.
func (c *fakeClient) fail(i int) {
	c.deliver(i, sntp.Event{Kind: sntp.EventFailure, Err: errors.New("timeout")})
	c.deliver(i, sntp.Event{Kind: sntp.EventClosed})
}

// fakeSetter records applied times and can be told to fail.
type fakeSetter struct {
	mu  sync.Mutex
	err error
	set []time.Time
}

func (f *fakeSetter) SetTime(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.set = append(f.set, t)
	return nil
}

func (f *fakeSetter) applied() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.set)
}

type fixture struct {
	svc    *Service
	client *fakeClient
	setter *fakeSetter
	clk    *clock.Manual
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	fc := &fakeClient{}
	fs := &fakeSetter{}
	mc := clock.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, err := New(cfg, Deps{
		Client: fc,
		Setter: fs,
		Clock:  mc,
		// tests drive Kick freely
		KickLimiter: rate.NewLimiter(rate.Inf, 1),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{svc: svc, client: fc, setter: fs, clk: mc}
}

// inJitterRange reports whether d is within [0.9, 1.1] of base.
func inJitterRange(d, base time.Duration) bool {
	lo := time.Duration(float64(base) * 0.9)
	hi := time.Duration(float64(base) * 1.1)
	return d >= lo && d <= hi
}
