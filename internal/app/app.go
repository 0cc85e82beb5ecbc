// Package app wires the timesyncd services together: config, logging,
// storage, the event bus, the network monitor, the deferred-work scheduler
// and the clock sync service.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"timesyncd/internal/config"
	"timesyncd/internal/eventbus"
	"timesyncd/internal/netmon"
	"timesyncd/internal/runtime/supervisor"
	"timesyncd/internal/scheduler"
	"timesyncd/internal/sntp"
	"timesyncd/internal/storage"
	"timesyncd/internal/timesync"
	logx "timesyncd/pkg/logx"
)

// forcedResyncJob is the one cron entry the app owns.
const forcedResyncJob = "timesync:forced_resync"

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched *scheduler.Service
	nmon  *netmon.Service
	tsync *timesync.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if sc.Driver != "" {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		if store != nil {
			log.Info("storage enabled", logx.String("driver", sc.Driver))
		}
	}

	sched := scheduler.New(mapSchedulerConfig(cfg), nil, log.With(logx.String("comp", "scheduler")))

	clientCfg, err := mapClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := sntp.New(clientCfg, log.With(logx.String("comp", "sntp")))

	tsCfg, err := mapTimesyncConfig(cfg)
	if err != nil {
		return nil, err
	}
	tsync, err := timesync.New(tsCfg, timesync.Deps{
		Client: client,
		Store:  store,
		Log:    log.With(logx.String("comp", "timesync")),
	})
	if err != nil {
		return nil, err
	}

	nmCfg, err := mapNetmonConfig(cfg)
	if err != nil {
		return nil, err
	}
	nmon := netmon.New(nmCfg, bus, log.With(logx.String("comp", "netmon")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sched:   sched,
		nmon:    nmon,
		tsync:   tsync,
	}
	cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		_ = ctx
		return validate(cfg)
	})
	return a, nil
}

// validate rejects configs that must not be committed: enabled sync without a
// server, malformed durations, malformed cron specs.
func validate(cfg *config.Config) error {
	if cfg.Timesync.Enabled && strings.TrimSpace(cfg.Timesync.Server) == "" {
		return fmt.Errorf("timesync.server: %w", timesync.ErrServerRequired)
	}
	if _, err := mapTimesyncConfig(cfg); err != nil {
		return err
	}
	if _, err := mapClientConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNetmonConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if spec := strings.TrimSpace(cfg.Timesync.ResyncSchedule); spec != "" {
		if !cfg.Scheduler.Enabled {
			return fmt.Errorf("timesync.resync_schedule requires scheduler.enabled")
		}
		if err := scheduler.ValidateSpec(spec); err != nil {
			return fmt.Errorf("timesync.resync_schedule: %w", err)
		}
	}
	return nil
}

// RegisterTimeChange subscribes an observer to clock-step notifications.
func (a *App) RegisterTimeChange(fn timesync.ObserverFunc) { a.tsync.Register(fn) }

// Timesync exposes the sync service status for diagnostics.
func (a *App) Timesync() timesync.Status { return a.tsync.Status() }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	cfg := a.cfgm.Get()

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	// Pending deferred-work deadlines follow the clock when it is stepped.
	a.tsync.Register(func(delta time.Duration) { a.sched.ShiftDeadlines(delta) })

	if spec := strings.TrimSpace(cfg.Timesync.ResyncSchedule); spec != "" && a.sched.Enabled() {
		if err := a.sched.AddCron(forcedResyncJob, spec, func(ctx context.Context) {
			a.tsync.Kick()
		}); err != nil {
			return fmt.Errorf("register forced resync: %w", err)
		}
		a.log.Info("forced resync scheduled", logx.String("spec", spec))
	}

	a.tsync.Start()

	// Link-up events trigger an immediate sync attempt.
	a.sup.Go0("timesync.linkup", func(ctx context.Context) {
		ch, unsub := a.bus.Subscribe(8)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Type == eventbus.TypeIPAcquired {
					a.tsync.Kick()
				}
			}
		}
	})

	a.sup.GoRestart("netmon", a.nmon.Run)
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.apply", a.applyLoop)

	a.log.Info("timesyncd started",
		logx.Bool("timesync", cfg.Timesync.Enabled),
		logx.Bool("netmon", cfg.Netmon.Enabled),
		logx.Bool("scheduler", cfg.Scheduler.Enabled),
	)
	return nil
}

// applyLoop reacts to committed config reloads. Logging and sync tunables are
// applied live; storage/scheduler topology changes require a restart.
func (a *App) applyLoop(ctx context.Context) {
	ch := a.cfgm.Subscribe(2)
	defer a.cfgm.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logs.Apply(mapLoggingConfig(cfg))
			tsCfg, err := mapTimesyncConfig(cfg)
			if err != nil {
				// validator should have rejected this
				a.log.Warn("reload: bad timesync config", logx.Err(err))
				continue
			}
			if err := a.tsync.Apply(tsCfg); err != nil {
				a.log.Warn("reload: timesync apply failed", logx.Err(err))
				continue
			}
			a.log.Info("config reloaded")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.tsync.Stop()
	if a.sched.Enabled() {
		a.sched.Stop(ctx)
	}
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("timesyncd stopped")
	_ = a.logs.Close()
	return err
}
