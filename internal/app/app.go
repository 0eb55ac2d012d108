// Package app wires configuration, storage, the schedule service, the
// dispatch pipeline and the HTTP API into one runnable unit.
package app

import (
	"context"
	"fmt"
	"time"

	"remindd/internal/config"
	"remindd/internal/delivery"
	"remindd/internal/dispatch"
	"remindd/internal/eventbus"
	"remindd/internal/httpapi"
	"remindd/internal/reminder"
	rtsup "remindd/internal/runtime/supervisor"
	"remindd/internal/schedule"
	"remindd/internal/storage"
	"remindd/internal/trigger"
	"remindd/internal/trigger/local"
	"remindd/internal/trigger/rulesvc"
	logx "remindd/pkg/logx"
)

const retentionJob = "retention.sweep"

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched  *schedule.Service
	disp   *dispatch.Service
	reg    trigger.Registrar
	engine *reminder.Engine
	http   *httpapi.Server
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

	bus := eventbus.New()

	stCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(stCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", stCfg.Driver), logx.String("path", stCfg.Path))

	schedSvc := schedule.New(schedule.Config{DefaultTimeout: 30 * time.Second},
		log.With(logx.String("comp", "schedule")), bus)

	whCfg, err := mapWebhookConfig(cfg)
	if err != nil {
		return nil, err
	}
	webhook, err := delivery.NewWebhook(whCfg, log.With(logx.String("comp", "delivery")))
	if err != nil {
		return nil, err
	}

	dspCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	dispSvc := dispatch.New(dspCfg, webhook, log.With(logx.String("comp", "dispatch")), bus)

	reg, err := buildRegistrar(cfg, schedSvc, dispSvc, log)
	if err != nil {
		return nil, err
	}

	engine := reminder.NewEngine(reg, dispSvc, bus, log.With(logx.String("comp", "reminder")))

	httpCfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	httpSrv := httpapi.New(httpCfg, store, engine, log.With(logx.String("comp", "http")))

	return &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		sched:  schedSvc,
		disp:   dispSvc,
		reg:    reg,
		engine: engine,
		http:   httpSrv,
	}, nil
}

func buildRegistrar(cfg *config.Config, sched *schedule.Service, disp *dispatch.Service, log logx.Logger) (trigger.Registrar, error) {
	switch cfg.Scheduler.Backend {
	case "", "local":
		return local.New(sched, disp, log.With(logx.String("comp", "trigger"))), nil
	case "rulesvc":
		rsCfg, err := mapRuleSvcConfig(cfg)
		if err != nil {
			return nil, err
		}
		return rulesvc.New(rsCfg, rulesvc.Target{
			URL:         cfg.Delivery.TargetURL,
			InvokerRole: cfg.Delivery.InvokerRole,
		}, log.With(logx.String("comp", "trigger")))
	default:
		return nil, fmt.Errorf("unknown scheduler backend %q", cfg.Scheduler.Backend)
	}
}

// Done is closed when the app run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		if _, err := mapHTTPConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRetentionConfig(cfg); err != nil {
			return err
		}
		if cfg.Scheduler.Backend == "rulesvc" {
			if _, err := mapRuleSvcConfig(cfg); err != nil {
				return err
			}
		}
		return nil
	})

	if a.disp.Enabled() {
		a.disp.Start(a.sup.Context())
	}
	a.sched.Start(a.sup.Context())

	if err := a.armRetention(a.cfgm.Get()); err != nil {
		return err
	}

	a.sup.GoRestart("http.serve", func(c context.Context) error {
		go func() {
			<-c.Done()
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.http.Shutdown(shCtx)
		}()
		err := a.http.Start()
		if c.Err() != nil {
			return context.Canceled
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("http server exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))

	// Debug-level event log for operational visibility.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload applies the live-tunable parts of a validated config. Listener
// address, storage driver and scheduler backend changes need a restart.
func (a *App) applyReload(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	prevEnabled := a.disp.Enabled()
	dspCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dspCfg)
		if prevEnabled && !dspCfg.Enabled {
			a.log.Info("dispatch disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.disp.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && dspCfg.Enabled {
			a.log.Info("dispatch enabled via config")
			a.disp.Start(ctx)
		}
	}

	if err := a.armRetention(cfg); err != nil {
		a.log.Warn("invalid retention config; keeping previous", logx.Err(err))
	}

	a.log.Info("config reloaded")
}

// armRetention installs (or removes) the periodic sweep of old events.
// AddCron upserts by name, so re-arming on reload replaces the entry.
func (a *App) armRetention(cfg *config.Config) error {
	ret, err := mapRetentionConfig(cfg)
	if err != nil {
		return err
	}
	if !ret.enabled || a.store == nil {
		a.sched.Remove(retentionJob)
		return nil
	}
	maxAge := ret.maxAge
	_, err = a.sched.AddCron(retentionJob, ret.schedule, time.Minute, func(c context.Context) error {
		cutoff := time.Now().UTC().Add(-maxAge)
		n, err := a.store.DeleteOlderThan(c, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.Info("retention sweep", logx.Int("removed", n), logx.Time("cutoff", cutoff))
		}
		return nil
	})
	return err
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(stepCtx)
		}()
		select {
		case <-done:
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name))
		}
	}

	step("http", 5*time.Second, func(c context.Context) { _ = a.http.Shutdown(c) })
	step("dispatch", 5*time.Second, func(c context.Context) { a.disp.Stop(c) })
	step("schedule", 5*time.Second, func(c context.Context) { a.sched.Stop(c) })
	step("supervisor", 5*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}

	a.log.Info("stopped")
	return nil
}
