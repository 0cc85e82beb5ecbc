// Package sntp wraps a single SNTP request/reply exchange behind a
// session/event interface so the sync service never touches the wire format.
//
// Session contract:
//   - Events for one session are delivered sequentially from one goroutine.
//   - Exactly one outcome event (Reply, Malformed or Failure) is delivered
//     after Connected, unless the session was closed early.
//   - Closed is always delivered exactly once, after the outcome.
//   - Close() is best-effort: the in-flight exchange cannot be aborted (it is
//     bounded by the query timeout), but a late outcome is suppressed.
package sntp

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"

	logx "timesyncd/pkg/logx"
)

type EventKind int

const (
	EventConnected EventKind = iota
	EventReply
	EventMalformed
	EventFailure
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventReply:
		return "reply"
	case EventMalformed:
		return "malformed"
	case EventFailure:
		return "failure"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is delivered to the session's onEvent callback.
type Event struct {
	Kind EventKind
	// ServerTime is the server's notion of "now" at local receipt.
	// Only set for EventReply.
	ServerTime time.Time
	// RTT is the measured round trip. Only set for EventReply.
	RTT time.Duration
	Err error
}

// Session is one logical connect -> request -> reply(or failure) -> close
// cycle against the time server.
type Session interface {
	// Close requests teardown. Safe to call multiple times.
	Close()
}

// Client opens sessions against a time server.
type Client interface {
	Connect(server string, onEvent func(Event)) (Session, error)
}

// Config controls the real client.
type Config struct {
	// Timeout bounds one exchange. Zero means 10s.
	Timeout time.Duration
}

// NTPClient is the production Client backed by github.com/beevik/ntp.
type NTPClient struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *NTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NTPClient{cfg: cfg, log: log}
}

func (c *NTPClient) Connect(server string, onEvent func(Event)) (Session, error) {
	if server == "" {
		return nil, errors.New("sntp: server address is empty")
	}
	if onEvent == nil {
		return nil, errors.New("sntp: onEvent is required")
	}
	s := &session{}
	go s.run(c, server, onEvent)
	return s, nil
}

type session struct {
	closed atomic.Bool
}

func (s *session) Close() { s.closed.Store(true) }

// run performs the exchange and delivers events in order.
func (s *session) run(c *NTPClient, server string, onEvent func(Event)) {
	s.emit(onEvent, Event{Kind: EventConnected})

	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: c.cfg.Timeout})
	switch {
	case err != nil:
		s.emit(onEvent, Event{Kind: EventFailure, Err: err})
	case resp.Validate() != nil:
		s.emit(onEvent, Event{Kind: EventMalformed, Err: resp.Validate()})
	default:
		s.emit(onEvent, Event{
			Kind:       EventReply,
			ServerTime: time.Now().Add(resp.ClockOffset),
			RTT:        resp.RTT,
		})
	}

	// Closed is unconditional so the scheduler's re-arm path always runs.
	onEvent(Event{Kind: EventClosed})
}

// emit suppresses non-Closed events after an early Close().
func (s *session) emit(onEvent func(Event), e Event) {
	if s.closed.Load() {
		return
	}
	onEvent(e)
}
