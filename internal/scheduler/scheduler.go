package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"timesyncd/internal/clock"
	logx "timesyncd/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

type cronDef struct {
	name string
	spec string
	job  func(ctx context.Context)
}

type onceJob struct {
	name  string
	at    time.Time
	timer clock.Timer
	job   func(ctx context.Context)
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	clk clock.Clock

	parser cron.Parser
	c      *cron.Cron
	defs   []cronDef

	runCtx    context.Context
	runCancel context.CancelFunc

	// one-shot jobs keyed by name
	tmu  sync.Mutex
	once map[string]*onceJob
}

func New(cfg Config, clk clock.Clock, log logx.Logger) *Service {
	if clk == nil {
		clk = clock.Wall{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		clk:    clk,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		once:   map[string]*onceJob{},
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	// re-register existing defs (registering while stopped is supported)
	for _, d := range s.defs {
		s.addCronLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return
	}
	s.runCancel()
	s.runCtx, s.runCancel = nil, nil
	if s.c != nil {
		select {
		case <-s.c.Stop().Done():
		case <-ctx.Done():
		}
		s.c = nil
	}

	s.tmu.Lock()
	for _, j := range s.once {
		if j.timer != nil {
			j.timer.Stop()
		}
	}
	s.once = map[string]*onceJob{}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped")
}

// AddCron registers a recurring job under a stable name.
func (s *Service) AddCron(name, spec string, job func(ctx context.Context)) error {
	if strings.TrimSpace(spec) == "" {
		return errors.New("scheduler: empty cron spec")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := cronDef{name: name, spec: spec, job: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		return s.addCronLocked(d)
	}
	return nil
}

func (s *Service) addCronLocked(d cronDef) error {
	_, err := s.c.AddFunc(d.spec, func() {
		s.exec(d.name, d.job)
	})
	return err
}

// RunAt arms (or re-arms, if the name exists) a one-shot job at an absolute
// wall-clock deadline. A deadline in the past fires immediately.
func (s *Service) RunAt(name string, at time.Time, job func(ctx context.Context)) error {
	if job == nil {
		return errors.New("scheduler: nil job")
	}
	s.mu.Lock()
	started := s.runCtx != nil
	s.mu.Unlock()
	if !started {
		return errors.New("scheduler not started")
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if old, ok := s.once[name]; ok && old.timer != nil {
		old.timer.Stop()
	}
	j := &onceJob{name: name, at: at, job: job}
	d := at.Sub(s.clk.Now())
	if d < 0 {
		d = 0
	}
	j.timer = s.clk.AfterFunc(d, func() { s.fireOnce(name) })
	s.once[name] = j
	s.log.Debug("one-shot armed", logx.String("job", name), logx.Time("at", at))
	return nil
}

// CancelAt disarms a pending one-shot. Returns false if none is pending.
func (s *Service) CancelAt(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	j, ok := s.once[name]
	if !ok {
		return false
	}
	if j.timer != nil {
		j.timer.Stop()
	}
	delete(s.once, name)
	return true
}

// PendingAt reports the wall deadline of a pending one-shot.
func (s *Service) PendingAt(name string) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	j, ok := s.once[name]
	if !ok {
		return time.Time{}, false
	}
	return j.at, true
}

// ShiftDeadlines moves every pending one-shot deadline by delta. Wired as a
// clock-step observer: after the system clock jumps, the stored wall
// deadlines must follow so the remaining wait is preserved. Returns the
// number of deadlines shifted.
func (s *Service) ShiftDeadlines(delta time.Duration) int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for _, j := range s.once {
		j.at = j.at.Add(delta)
	}
	n := len(s.once)
	if n > 0 {
		s.log.Debug("deadlines shifted", logx.Duration("delta", delta), logx.Int("jobs", n))
	}
	return n
}

func (s *Service) fireOnce(name string) {
	s.tmu.Lock()
	j, ok := s.once[name]
	if ok {
		delete(s.once, name)
	}
	s.tmu.Unlock()
	if !ok {
		return
	}
	s.exec(j.name, j.job)
}

// exec runs a job on the service context with panic containment.
func (s *Service) exec(name string, job func(ctx context.Context)) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil || job == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled job panicked",
				logx.String("job", name),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	start := time.Now()
	job(ctx)
	s.log.Debug("job ok", logx.String("job", name), logx.Duration("took", time.Since(start)))
}

// ValidateSpec reports whether a cron spec would be accepted by AddCron.
func ValidateSpec(spec string) error {
	p := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := p.Parse(spec)
	return err
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
