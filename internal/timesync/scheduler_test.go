package timesync

import (
	"errors"
	"testing"
	"time"

	"timesyncd/internal/sntp"
)

func testConfig() Config {
	return Config{
		Enabled:        true,
		Server:         "pool.example.org",
		UpdateInterval: time.Hour,
		RetryMin:       10 * time.Second,
		RetryMax:       300 * time.Second,
	}
}

func TestNewRequiresServerWhenEnabled(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Enabled: true}, Deps{Client: &fakeClient{}})
	if !errors.Is(err, ErrServerRequired) {
		t.Fatalf("err = %v, want ErrServerRequired", err)
	}
	if _, err := New(Config{Enabled: false}, Deps{Client: &fakeClient{}}); err != nil {
		t.Fatalf("disabled without server: %v", err)
	}
}

func TestBackoffDoublesAndClamps(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	// Kick runs the first attempt immediately and arms the retry timer with
	// the backoff seed.
	f.svc.Kick()
	if got := f.client.count(); got != 1 {
		t.Fatalf("sessions after kick = %d, want 1", got)
	}
	if got := f.clk.Armed(); got != 1 {
		t.Fatalf("armed timers = %d, want 1", got)
	}
	if d := f.clk.Delays()[0]; !inJitterRange(d, 10*time.Second) {
		t.Fatalf("first retry delay = %v, want within [9s, 11s]", d)
	}
	f.client.fail(0)

	wantBackoff := []time.Duration{
		20 * time.Second, 40 * time.Second, 80 * time.Second,
		160 * time.Second, 300 * time.Second, 300 * time.Second,
	}
	for i, want := range wantBackoff {
		if !f.clk.FireNext() {
			t.Fatalf("attempt %d: no timer to fire", i+2)
		}
		if d := f.clk.Delays()[0]; !inJitterRange(d, want) {
			t.Fatalf("attempt %d: delay = %v, want within 10%% of %v", i+2, d, want)
		}
		if got := f.svc.Status().Backoff; got != want {
			t.Fatalf("attempt %d: backoff = %v, want %v", i+2, got, want)
		}
		f.client.fail(i + 1)
	}

	st := f.svc.Status()
	if st.Synced {
		t.Fatal("synced should be false after failures only")
	}
	if st.Failures == 0 {
		t.Fatal("failures not counted")
	}
}

func TestSuccessResetsBackoffAndArmsSteadyCadence(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.svc.Kick()

	serverTime := f.clk.Now().Add(5 * time.Second)
	f.client.deliver(0, sntp.Event{Kind: sntp.EventReply, ServerTime: serverTime, RTT: 30 * time.Millisecond})

	if got := f.setter.applied(); got != 1 {
		t.Fatalf("setter applied %d times, want 1", got)
	}
	if !f.client.session(0).closed.Load() {
		t.Fatal("session not closed after successful reply")
	}
	// Safety-net timer is disarmed on success; the steady-state timer is not
	// armed until the session reports closed.
	if got := f.clk.Armed(); got != 0 {
		t.Fatalf("armed timers before close = %d, want 0", got)
	}

	f.client.deliver(0, sntp.Event{Kind: sntp.EventClosed})
	if got := f.clk.Armed(); got != 1 {
		t.Fatalf("armed timers after close = %d, want 1", got)
	}
	if d := f.clk.Delays()[0]; !inJitterRange(d, time.Hour) {
		t.Fatalf("steady-state delay = %v, want within 10%% of 1h", d)
	}

	st := f.svc.Status()
	if !st.Synced {
		t.Fatal("synced should be true")
	}
	if st.Backoff != 0 {
		t.Fatalf("backoff = %v, want 0 after success", st.Backoff)
	}
	if st.LastDelta != 5*time.Second {
		t.Fatalf("last delta = %v, want 5s", st.LastDelta)
	}
}

func TestPostSyncFailureKeepsSteadyCadence(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.svc.Kick()
	f.client.deliver(0, sntp.Event{Kind: sntp.EventReply, ServerTime: f.clk.Now()})
	f.client.deliver(0, sntp.Event{Kind: sntp.EventClosed})

	// Steady-state timer fires, the next attempt fails. Synced stays set and
	// the cadence does not drop back into the backoff regime.
	if !f.clk.FireNext() {
		t.Fatal("no steady-state timer to fire")
	}
	if got := f.client.count(); got != 2 {
		t.Fatalf("sessions = %d, want 2", got)
	}
	f.client.fail(1)

	if !f.svc.Synced() {
		t.Fatal("synced dropped after a transient failure")
	}
	if d := f.clk.Delays()[0]; !inJitterRange(d, time.Hour) {
		t.Fatalf("delay after post-sync failure = %v, want within 10%% of 1h", d)
	}
	if got := f.svc.Status().Backoff; got != 0 {
		t.Fatalf("backoff = %v, want 0 while synced", got)
	}
}

func TestSingleSessionInvariant(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.svc.Kick()
	if got := f.client.count(); got != 1 {
		t.Fatalf("sessions = %d, want 1", got)
	}

	// A second kick while the first session is in flight must not open a
	// second session; it requests a close of the active one.
	f.svc.Kick()
	if got := f.client.count(); got != 1 {
		t.Fatalf("sessions after second kick = %d, want 1", got)
	}
	if !f.client.session(0).closed.Load() {
		t.Fatal("active session should have been asked to close")
	}

	// Only once the session reports closed can a new attempt open one.
	f.client.deliver(0, sntp.Event{Kind: sntp.EventClosed})
	f.svc.Kick()
	if got := f.client.count(); got != 2 {
		t.Fatalf("sessions after close + kick = %d, want 2", got)
	}
}

func TestSafetyNetRearmsWhileSessionHangs(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.svc.Kick()

	// The session never answers. The armed timer fires, requests a close, and
	// re-arms immediately so a silent session cannot stall the cycle.
	if !f.clk.FireNext() {
		t.Fatal("no timer to fire")
	}
	if got := f.client.count(); got != 1 {
		t.Fatalf("sessions = %d, want 1 (no new session while one is active)", got)
	}
	if !f.client.session(0).closed.Load() {
		t.Fatal("hung session should have been asked to close")
	}
	if got := f.clk.Armed(); got != 1 {
		t.Fatalf("armed timers = %d, want 1 (safety net)", got)
	}

	// The close event re-arms via the usual path; the already armed timer
	// makes that a no-op.
	f.client.deliver(0, sntp.Event{Kind: sntp.EventClosed})
	if got := f.clk.Armed(); got != 1 {
		t.Fatalf("armed timers after close = %d, want 1", got)
	}
}

func TestStaleSessionEventsAreIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.svc.Kick()
	f.client.deliver(0, sntp.Event{Kind: sntp.EventClosed})
	f.svc.Kick()
	if got := f.client.count(); got != 2 {
		t.Fatalf("sessions = %d, want 2", got)
	}

	// A late reply from the abandoned first session must not flip state or
	// tear down the current session.
	f.client.deliver(0, sntp.Event{Kind: sntp.EventFailure, Err: errors.New("late")})
	f.client.deliver(0, sntp.Event{Kind: sntp.EventClosed})
	st := f.svc.Status()
	if !st.InFlight {
		t.Fatal("current session was dropped by a stale event")
	}
	if f.client.session(1).closed.Load() {
		t.Fatal("current session closed by a stale event")
	}
}

func TestSetterFailureIsTreatedAsFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.setter.err = errors.New("operation not permitted")

	var notified int
	f.svc.Register(func(time.Duration) { notified++ })

	f.svc.Kick()
	f.client.deliver(0, sntp.Event{Kind: sntp.EventReply, ServerTime: f.clk.Now().Add(time.Minute)})

	if f.svc.Synced() {
		t.Fatal("synced set despite setter failure")
	}
	if notified != 0 {
		t.Fatalf("observers notified %d times, want 0", notified)
	}
	if !f.client.session(0).closed.Load() {
		t.Fatal("session should be closed after setter failure")
	}

	// The close path retries with backoff, not the steady-state interval.
	f.client.deliver(0, sntp.Event{Kind: sntp.EventClosed})
	if d := f.clk.Delays()[0]; !inJitterRange(d, 10*time.Second) {
		t.Fatalf("retry delay = %v, want within [9s, 11s]", d)
	}
}

func TestObserverOrderAndDelta(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	var order []string
	var deltas []time.Duration
	f.svc.Register(func(d time.Duration) { order = append(order, "a"); deltas = append(deltas, d) })
	f.svc.Register(func(d time.Duration) { order = append(order, "b"); deltas = append(deltas, d) })

	f.svc.Kick()
	f.client.deliver(0, sntp.Event{Kind: sntp.EventReply, ServerTime: f.clk.Now().Add(-3 * time.Second)})

	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Fatalf("observer order = %v, want [b a] (most recent first)", order)
	}
	for i, d := range deltas {
		if d != -3*time.Second {
			t.Fatalf("delta[%d] = %v, want -3s", i, d)
		}
	}

	// A second success notifies each observer exactly once more.
	f.client.deliver(0, sntp.Event{Kind: sntp.EventClosed})
	f.svc.Kick()
	f.client.deliver(1, sntp.Event{Kind: sntp.EventReply, ServerTime: f.clk.Now().Add(time.Second)})
	if len(order) != 4 {
		t.Fatalf("notifications = %d, want 4", len(order))
	}
}

func TestObserverRegisteringObserverDoesNotDisturbFanout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())

	var calls []string
	f.svc.Register(func(time.Duration) { calls = append(calls, "old") })
	f.svc.Register(func(d time.Duration) {
		calls = append(calls, "reg")
		f.svc.Register(func(time.Duration) { calls = append(calls, "new") })
	})

	f.svc.Kick()
	f.client.deliver(0, sntp.Event{Kind: sntp.EventReply, ServerTime: f.clk.Now()})

	if len(calls) != 2 || calls[0] != "reg" || calls[1] != "old" {
		t.Fatalf("calls = %v, want [reg old] (new observer waits for the next sync)", calls)
	}
}

func TestStopDisarmsAndClosesSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.svc.Kick()
	f.svc.Stop()

	if got := f.clk.Armed(); got != 0 {
		t.Fatalf("armed timers after stop = %d, want 0", got)
	}
	if !f.client.session(0).closed.Load() {
		t.Fatal("session not closed on stop")
	}

	// The close event of the torn-down session must not re-arm anything.
	f.client.deliver(0, sntp.Event{Kind: sntp.EventClosed})
	if got := f.clk.Armed(); got != 0 {
		t.Fatalf("armed timers after stopped close = %d, want 0", got)
	}

	f.svc.Kick()
	if got := f.client.count(); got != 1 {
		t.Fatalf("kick while stopped opened a session")
	}
}

func TestApplyDisableStopsCycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.svc.Start()
	if got := f.clk.Armed(); got != 1 {
		t.Fatalf("armed timers after start = %d, want 1", got)
	}

	cfg := testConfig()
	cfg.Enabled = false
	if err := f.svc.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := f.clk.Armed(); got != 0 {
		t.Fatalf("armed timers after disable = %d, want 0", got)
	}

	cfg.Enabled = true
	if err := f.svc.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := f.clk.Armed(); got != 1 {
		t.Fatalf("armed timers after re-enable = %d, want 1", got)
	}

	cfg.Server = ""
	if err := f.svc.Apply(cfg); !errors.Is(err, ErrServerRequired) {
		t.Fatalf("Apply without server: err = %v, want ErrServerRequired", err)
	}
}

func TestConnectErrorLeavesSafetyNet(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig())
	f.client.connectErr = errors.New("resolve failed")

	f.svc.Kick()
	if got := f.client.count(); got != 0 {
		t.Fatalf("sessions = %d, want 0", got)
	}
	// No session to deliver a close; the retry rides on the armed timer.
	if got := f.clk.Armed(); got != 1 {
		t.Fatalf("armed timers = %d, want 1", got)
	}
	if got := f.svc.Status().Failures; got != 1 {
		t.Fatalf("failures = %d, want 1", got)
	}
}

func TestKickDisabledIsNoop(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Enabled = false
	f := newFixture(t, cfg)
	f.svc.Start()
	f.svc.Kick()
	if got := f.client.count(); got != 0 {
		t.Fatalf("sessions = %d, want 0 when disabled", got)
	}
	if got := f.clk.Armed(); got != 0 {
		t.Fatalf("armed timers = %d, want 0 when disabled", got)
	}
}
