package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jobd/internal/engine"
	"jobd/internal/eventbus"
	"jobd/internal/registry"
	"jobd/internal/storage"
	"jobd/internal/transport/httpapi"
	logx "jobd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	reg   *registry.Registry

	eng *engine.Manager
	api *httpapi.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
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

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	reg := registry.New(log.With(logx.String("comp", "registry")))
	if err := applyExecutors(reg, nil, cfg.Executors, log.With(logx.String("comp", "executors"))); err != nil {
		// Startup is strict; hot reload is lenient.
		return nil, err
	}

	eng := engine.New(engine.Config{
		Workers:   cfg.Engine.Workers,
		QueueSize: cfg.Engine.QueueSize,
		Timezone:  cfg.Engine.Timezone,
	}, store, reg, log.With(logx.String("comp", "engine")), bus)

	apiCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	api := httpapi.New(apiCfg, eng, reg, log.With(logx.String("comp", "httpapi")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		reg:     reg,
		eng:     eng,
		api:     api,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
			if cfg.Engine.Workers < 0 {
				return fmt.Errorf("engine.workers must be >= 0")
			}
			if cfg.Engine.QueueSize < 0 {
				return fmt.Errorf("engine.queue_size must be >= 0")
			}
			if tz := strings.TrimSpace(cfg.Engine.Timezone); tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("engine.timezone: invalid %q: %w", tz, err)
				}
			}
			if _, err := mapServerConfig(cfg); err != nil {
				return err
			}
			if _, err := mapStorageConfig(cfg); err != nil {
				return err
			}
			return validateExecutors(cfg.Executors)
		})
	}

	if err := a.eng.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.api != nil && a.api.Enabled() {
		a.api.Start(a.sup.Context())
	}

	// Log execution lifecycle events for observability (debug-level; the
	// ledger is the source of truth).
	if a.bus != nil {
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
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
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
				sections, attrs, executorChanged := SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					lastApplied = newCfg
					continue
				}
				a.log.Debug("config change summary",
					append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

				// apply logging updates first so later reload logs honor the new level
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})

				for _, s := range sections {
					switch s {
					case "storage":
						a.log.Warn("storage config changed; restart required for changes to take effect")
					case "engine":
						a.log.Warn("engine config changed; restart required for changes to take effect")
					case "server":
						a.log.Warn("server config changed; restart required for changes to take effect")
					case "executors":
						// Executors hot-swap: newly registered bodies take
						// effect at the next fire, removed keys stop resolving.
						if err := applyExecutors(a.reg, lastApplied.Executors, newCfg.Executors,
							a.log.With(logx.String("comp", "executors"))); err != nil {
							a.log.Warn("executor reload partially applied", logx.Any("err", err))
						}
						a.log.Info("executors reloaded", logx.Any("changed", executorChanged))
					}
				}
				lastApplied = newCfg

				a.log.Info("config reloaded",
					append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop the API first so no new admin mutations race the engine shutdown.
	step("httpapi", 2*time.Second, func(c context.Context) error {
		if a.api != nil {
			a.api.Stop(c)
		}
		return nil
	})
	step("engine", 3*time.Second, func(c context.Context) error { a.eng.Stop(c); return nil })
	step("storage", 1*time.Second, func(_ context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapServerConfig(cfg *Config) (httpapi.Config, error) {
	if cfg == nil {
		return httpapi.Config{}, nil
	}
	sc := cfg.Server
	readTO, err := parseDurationOrDefault("server.read_timeout", sc.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	writeTO, err := parseDurationOrDefault("server.write_timeout", sc.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idleTO, err := parseDurationOrDefault("server.idle_timeout", sc.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	if sc.RatePerSec < 0 {
		return httpapi.Config{}, fmt.Errorf("server.rate_per_sec must be >= 0")
	}
	return httpapi.Config{
		Enabled:       sc.Enabled,
		Addr:          strings.TrimSpace(sc.Addr),
		Token:         strings.TrimSpace(sc.Token),
		AllowInsecure: sc.AllowInsecure,
		RatePerSec:    sc.RatePerSec,
		Burst:         sc.Burst,
		ReadTimeout:   readTO,
		WriteTimeout:  writeTO,
		IdleTimeout:   idleTO,
	}, nil
}
