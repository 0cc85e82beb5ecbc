package timesync

import (
	"time"

	"timesyncd/internal/sntp"
	logx "timesyncd/pkg/logx"
)

// attempt starts a new session if and only if none is active. If one is
// active it requests a best-effort close and returns; the Closed event of the
// old session re-arms the schedule.
func (s *Service) attempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.stopped {
		return
	}
	if s.session != nil {
		s.log.Debug("sync attempt while session active; requesting close")
		s.session.Close()
		return
	}

	s.gen++
	gen := s.gen
	s.attempts++
	// The mutex is held across Connect so events (delivered from the session
	// goroutine, which serializes on the same mutex) cannot observe a state
	// where the session is live but not yet tracked.
	sess, err := s.client.Connect(s.cfg.Server, func(e sntp.Event) { s.onEvent(gen, e) })
	if err != nil {
		// Nothing in flight; the caller's safety-net schedule covers the retry.
		s.log.Warn("sync connect failed", logx.String("server", s.cfg.Server), logx.Err(err))
		s.failures++
		return
	}
	s.session = sess
	s.log.Debug("sync query", logx.String("server", s.cfg.Server))
}

func (s *Service) schedule() {
	s.mu.Lock()
	s.scheduleLocked()
	s.mu.Unlock()
}

// scheduleLocked arms the one-shot timer if none is armed. Steady-state
// cadence once synced, clamped exponential backoff otherwise; either way the
// delay is jittered by [0.9, 1.1] to avoid resync storms across devices.
func (s *Service) scheduleLocked() {
	if !s.cfg.Enabled || s.stopped {
		return
	}
	if s.timer != nil {
		return
	}
	var d time.Duration
	if s.synced {
		d = s.cfg.UpdateInterval
	} else {
		d = s.backoff * 2
		if d < s.cfg.RetryMin {
			d = s.cfg.RetryMin
		}
		if d > s.cfg.RetryMax {
			d = s.cfg.RetryMax
		}
		s.backoff = d
	}
	d = s.jitterLocked(d)
	s.log.Debug("next sync query", logx.Duration("in", d))
	s.timer = s.clk.AfterFunc(d, s.timerFired)
}

// jitterLocked draws uniformly from [0.9d, 1.1d].
func (s *Service) jitterLocked(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	f := 0.9 + 0.2*s.rng.Float64()
	return time.Duration(float64(d) * f)
}

func (s *Service) timerFired() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()

	s.attempt()
	// A reply may never arrive, so re-arm immediately as a safety net.
	// A successful reply disarms it.
	s.schedule()
}

// onEvent handles session events. gen ties the event stream to the attempt it
// belongs to; stale streams may log but never mutate tracked state.
func (s *Service) onEvent(gen uint64, e sntp.Event) {
	switch e.Kind {
	case sntp.EventConnected:
		s.log.Debug("sync request sent")

	case sntp.EventReply:
		s.handleReply(gen, e)

	case sntp.EventMalformed, sntp.EventFailure:
		s.log.Error("sync error", logx.String("event", e.Kind.String()), logx.Err(e.Err))
		s.mu.Lock()
		if gen == s.gen && s.session != nil {
			s.failures++
			s.session.Close()
		}
		s.mu.Unlock()
		s.record(false, 0, 0, errString(e.Err))

	case sntp.EventClosed:
		s.log.Debug("sync session closed")
		s.mu.Lock()
		if gen == s.gen && s.session != nil {
			s.session = nil
			// The single re-entry point: every session, success or failure,
			// ends here and re-arms the schedule.
			s.scheduleLocked()
		}
		s.mu.Unlock()
	}
}

func (s *Service) handleReply(gen uint64, e sntp.Event) {
	now := s.clk.Now()
	delta := e.ServerTime.Sub(now)

	if err := s.setter.SetTime(e.ServerTime); err != nil {
		// Failure-equivalent outcome: synced is untouched and the close path
		// retries with backoff.
		s.log.Error("failed to set time", logx.Err(err))
		s.mu.Lock()
		if gen == s.gen && s.session != nil {
			s.failures++
			s.session.Close()
		}
		s.mu.Unlock()
		s.record(false, delta, e.RTT, "set time: "+err.Error())
		return
	}

	s.log.Info("clock synced",
		logx.Time("server_time", e.ServerTime),
		logx.Duration("delta", delta),
		logx.Duration("rtt", e.RTT),
	)

	s.mu.Lock()
	s.synced = true
	s.backoff = 0
	s.lastSync = now
	s.lastDelta = delta
	// Success needs no retry: disarm the safety net. The close path below
	// will arm the steady-state interval instead.
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if gen == s.gen && s.session != nil {
		s.session.Close()
	}
	obs := make([]ObserverFunc, len(s.observers))
	copy(obs, s.observers)
	s.mu.Unlock()

	// Synchronous fanout over a stable snapshot; one observer cannot stop the
	// rest from being invoked.
	for _, fn := range obs {
		fn(delta)
	}

	s.record(true, delta, e.RTT, "")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
