package timesync

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"timesyncd/internal/clock"
	"timesyncd/internal/sntp"
	"timesyncd/internal/storage"
	logx "timesyncd/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config

	client sntp.Client
	setter clock.Setter
	clk    clock.Clock
	store  storage.Store
	log    logx.Logger

	rng     *rand.Rand // guarded by mu
	limiter *rate.Limiter

	// gen identifies the current attempt; events carrying a stale gen belong
	// to an abandoned session and must not touch the tracked state.
	gen     uint64
	session sntp.Session
	timer   clock.Timer

	synced  bool
	backoff time.Duration
	stopped bool

	// most-recently-registered first
	observers []ObserverFunc

	lastSync  time.Time
	lastDelta time.Duration
	attempts  uint64
	failures  uint64
}

// New validates the config and builds an inert service; Start arms the first
// attempt. Enabled without a server address is a configuration error.
func New(cfg Config, deps Deps) (*Service, error) {
	if cfg.Enabled && cfg.Server == "" {
		return nil, ErrServerRequired
	}
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.Wall{}
	}
	if deps.Setter == nil {
		deps.Setter = clock.System{}
	}
	if deps.KickLimiter == nil {
		deps.KickLimiter = rate.NewLimiter(rate.Every(10*time.Second), 3)
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		client:  deps.Client,
		setter:  deps.Setter,
		clk:     deps.Clock,
		store:   deps.Store,
		log:     deps.Log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		limiter: deps.KickLimiter,
	}, nil
}

// Start arms the first attempt. No-op when disabled.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false
	s.scheduleLocked()
}

// Stop disarms the pending timer and closes any in-flight session. The service
// stays registered but will not schedule further attempts until Start.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.session != nil {
		s.session.Close()
	}
}

// Apply replaces the runtime tunables (server, intervals) on config reload.
// The new bounds take effect on the next attempt/schedule. Disabling stops
// the cycle; enabling re-arms it.
func (s *Service) Apply(cfg Config) error {
	if cfg.Enabled && cfg.Server == "" {
		return ErrServerRequired
	}
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	wasEnabled := s.cfg.Enabled
	s.cfg = cfg
	if wasEnabled && !cfg.Enabled {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		if s.session != nil {
			s.session.Close()
		}
		return nil
	}
	if cfg.Enabled && !s.stopped {
		s.scheduleLocked()
	}
	return nil
}

// Register subscribes to clock-step notifications. Observers are never
// unregistered; notification order is most recently registered first.
func (s *Service) Register(fn ObserverFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append([]ObserverFunc{fn}, s.observers...)
	s.mu.Unlock()
}

// Kick is the immediate-attempt path used for link-up events and forced
// resyncs. It is idempotent: an attempt while a session is active only issues
// a best-effort close, and scheduling while a timer is armed is a no-op.
// Bursts are rate limited so flapping links cannot hammer the server.
func (s *Service) Kick() {
	s.mu.Lock()
	enabled := s.cfg.Enabled && !s.stopped
	s.mu.Unlock()
	if !enabled {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.log.Debug("sync kick rate limited")
		return
	}
	s.attempt()
	s.schedule()
}

// Synced reports whether at least one successful sync has occurred.
func (s *Service) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:   s.cfg.Enabled,
		Synced:    s.synced,
		InFlight:  s.session != nil,
		Armed:     s.timer != nil,
		Backoff:   s.backoff,
		LastSync:  s.lastSync,
		LastDelta: s.lastDelta,
		Attempts:  s.attempts,
		Failures:  s.failures,
	}
}

// record appends an attempt outcome to the history store, best-effort.
func (s *Service) record(ok bool, delta, rtt time.Duration, errMsg string) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	server := s.cfg.Server
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev := storage.SyncEvent{
		At:     time.Now(),
		Server: server,
		OK:     ok,
		Delta:  delta,
		RTT:    rtt,
		Error:  errMsg,
	}
	if err := s.store.AppendSync(ctx, ev); err != nil {
		s.log.Debug("sync history append failed", logx.Err(err))
	}
}
