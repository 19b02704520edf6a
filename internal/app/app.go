// Package app wires configuration, storage and the tracking components
// into a runnable service.
package app

import (
	"context"
	"strings"
	"time"

	"prodtrack/internal/autocomplete"
	"prodtrack/internal/catalog"
	"prodtrack/internal/clock"
	"prodtrack/internal/config"
	"prodtrack/internal/eventbus"
	"prodtrack/internal/notify"
	"prodtrack/internal/overrun"
	"prodtrack/internal/persist"
	"prodtrack/internal/remote"
	"prodtrack/internal/runtime/supervisor"
	"prodtrack/internal/services/scheduler"
	"prodtrack/internal/session"
	"prodtrack/internal/storage"
	"prodtrack/internal/timer"
	"prodtrack/internal/track"
	"prodtrack/internal/week"
	"prodtrack/internal/workwindow"
	logx "prodtrack/pkg/logx"
)

const (
	defaultTickInterval = 100 * time.Millisecond
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store storage.Store
	bus   eventbus.Bus
	sup   *supervisor.Supervisor
	sched *scheduler.Service

	tmr     *timer.JobTimer
	watcher *overrun.Watcher
	auto    *autocomplete.Coordinator
	notif   *notify.Notifier
	coord   *persist.Coordinator
	sess    *session.Session

	tickInterval  time.Duration
	scanInterval  time.Duration
	checkRecovery bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error {
		return c.Validate()
	})

	clk := clock.System()
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver))

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	log.Info("catalog loaded", logx.Int("items", cat.Len()))

	window, err := cfg.Schedule.Window()
	if err != nil {
		return nil, err
	}
	eval := workwindow.New(window, clk)
	weeks := week.New(window.Weekdays)

	minSaveGap, err := config.ParseDurationField("persist.min_save_gap", cfg.Persist.MinSaveGap)
	if err != nil {
		return nil, err
	}
	client := remote.NewStoreBacked(store, cfg.User.ID, minSaveGap,
		log.With(logx.String("comp", "remote")))

	debounce, err := config.ParseDurationOrDefault("persist.debounce", cfg.Persist.Debounce, persist.DefaultDebounce)
	if err != nil {
		return nil, err
	}
	coord := persist.NewCoordinator(clk, client, bus, debounce,
		log.With(logx.String("comp", "persist")))

	snaps := snapshotStore{store: store, userID: cfg.User.ID}
	tmr := timer.New(clk, snaps, bus, log.With(logx.String("comp", "timer")))

	grace, err := config.ParseDurationOrDefault("timer.overrun_grace", cfg.Timer.OverrunGrace, overrun.DefaultGrace)
	if err != nil {
		return nil, err
	}
	watcher := overrun.New(tmr, bus, grace, log.With(logx.String("comp", "overrun")))

	role := track.RoleWorker
	if strings.EqualFold(strings.TrimSpace(cfg.User.Role), string(track.RoleAdmin)) {
		role = track.RoleAdmin
	}
	sess := session.New(session.Deps{
		Clock:         clk,
		Catalog:       cat,
		Evaluator:     eval,
		Weeks:         weeks,
		Timer:         tmr,
		Persist:       coord,
		Client:        client,
		Bus:           bus,
		Log:           log.With(logx.String("comp", "session")),
		Role:          role,
		TargetMinutes: cfg.Schedule.TargetMinutes(),
	})

	auto := autocomplete.New(tmr, bus, func(units int) error {
		_, err := sess.CompleteTimedJob(units)
		return err
	}, log.With(logx.String("comp", "autocomplete")))

	notif := notify.New(bus, notify.LogSink{Log: log.With(logx.String("comp", "notify"))}, 2,
		log.With(logx.String("comp", "notify")))

	tick, err := config.ParseDurationOrDefault("timer.tick_interval", cfg.Timer.TickInterval, defaultTickInterval)
	if err != nil {
		return nil, err
	}
	scan, err := config.ParseDurationOrDefault("timer.overrun_scan_every", cfg.Timer.OverrunScanEvery, overrun.DefaultScanInterval)
	if err != nil {
		return nil, err
	}
	checkRecovery := true
	if cfg.Timer.CheckAfterRecovery != nil {
		checkRecovery = *cfg.Timer.CheckAfterRecovery
	}

	return &App{
		cfgm:          cfgm,
		logs:          logSvc,
		log:           log,
		store:         store,
		bus:           bus,
		sched:         scheduler.New(log.With(logx.String("comp", "scheduler")), ""),
		tmr:           tmr,
		watcher:       watcher,
		auto:          auto,
		notif:         notif,
		coord:         coord,
		sess:          sess,
		tickInterval:  tick,
		scanInterval:  scan,
		checkRecovery: checkRecovery,
	}, nil
}

// Session exposes the worker session to front-ends.
func (a *App) Session() *session.Session { return a.sess }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	recovered, err := a.sess.Init(ctx)
	if err != nil {
		return err
	}
	// A timer that slept past its threshold notifies right away instead of
	// waiting for the first scan. The autocomplete and notify consumers
	// subscribed when they were built, so the event waits in their buffers
	// until Run drains them below.
	if recovered && a.checkRecovery {
		a.watcher.Check()
	}

	if _, err := a.sched.AddInterval("timer.tick", a.tickInterval, func(ctx context.Context) error {
		a.tmr.Tick()
		return nil
	}); err != nil {
		return err
	}
	if _, err := a.sched.AddInterval("overrun.scan", a.scanInterval, func(ctx context.Context) error {
		a.watcher.Check()
		return nil
	}); err != nil {
		return err
	}
	if _, err := a.sched.AddInterval("session.rollover", time.Minute, func(ctx context.Context) error {
		a.sess.CheckRollover()
		return nil
	}); err != nil {
		return err
	}
	// Midnight pass catches the date change even if the minute poll was
	// disabled or the host slept through it.
	if err := a.sched.AddCron("session.midnight", "@midnight", func(ctx context.Context) error {
		a.sess.CheckRollover()
		return nil
	}); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("autocomplete", a.auto.Run)
	a.sup.Go("notify", a.notif.Run)
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.reload", a.reloadLoop)

	a.log.Info("prodtrack started")
	return nil
}

// reloadLoop applies hot config changes. Logging applies live; everything
// else takes effect on restart and is logged so the operator knows.
func (a *App) reloadLoop(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)
	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			if len(changed) == 0 {
				prev = cfg
				continue
			}
			a.log.Info("config reloaded", append(attrs, logx.Any("sections", changed))...)
			for _, section := range changed {
				switch section {
				case "logging":
					a.logs.Apply(logx.Config{
						Level:   cfg.Logging.Level,
						Console: cfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: cfg.Logging.File.Enabled,
							Path:    cfg.Logging.File.Path,
						},
					})
				default:
					a.log.Warn("config section needs restart to apply",
						logx.String("section", section))
				}
			}
			prev = cfg
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.sched.Stop()
	err := a.sess.Teardown(ctx)
	if a.sup != nil {
		if serr := a.sup.Stop(ctx); err == nil {
			err = serr
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("prodtrack stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
