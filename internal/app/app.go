// Package app is the composition root: it loads the config, builds every
// service in dependency order, fans hot reloads out to them and tears the
// process down in a bounded, ordered way.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trendbot/internal/alert"
	"trendbot/internal/bandit"
	"trendbot/internal/engine"
	"trendbot/internal/eventbus"
	"trendbot/internal/gate"
	pprofsvc "trendbot/internal/observability/pprof"
	"trendbot/internal/platform"
	"trendbot/internal/reconcile"
	"trendbot/internal/schedule"
	"trendbot/internal/scoring"
	"trendbot/internal/storage"
	"trendbot/internal/trend"
	"trendbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	// hasSender is false when the process started without a Telegram token;
	// enabling alerts later then needs a restart.
	hasSender bool

	alerts     *alert.Service
	scorer     *scoring.Scorer
	selector   *bandit.Selector
	gate       *gate.Gate
	reconciler *reconcile.Reconciler
	engine     *engine.Service
	sched      *schedule.Service
	pprof      *pprofsvc.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// One Telegram sender backs both the alert pipeline and the logx mirror
	// sink. Without a token both stay inert.
	var (
		tg     *alert.TelegramSender
		chatID int64
	)
	if cfg.Alerts != nil && strings.TrimSpace(cfg.Alerts.Token) != "" {
		tg, err = alert.NewTelegramSender(cfg.Alerts.Token)
		if err != nil {
			return nil, fmt.Errorf("alerts: %w", err)
		}
		chatID = cfg.Alerts.ChatID
	}
	var logSender logx.Sender
	var alertSender alert.Sender
	if tg != nil {
		logSender, alertSender = tg, tg
	}

	// logx.New applies immediately. Bootstrap with the Telegram sink off,
	// point it at the chat, then apply the real config so the first Apply
	// never warns about a missing target.
	bootCfg := mapLoggingConfig(cfg)
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, logSender)
	logSvc.SetTelegramTarget(chatID)
	logSvc.Apply(mapLoggingConfig(cfg))
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

	alertCfg, err := mapAlertConfig(cfg)
	if err != nil {
		return nil, err
	}
	alerts := alert.New(alertCfg, alertSender, log.With(logx.String("comp", "alert")), bus, store)

	ingestor := trend.NewIngestor(store, log.With(logx.String("comp", "trend")))
	scorer := scoring.NewScorer(mapScoringConfig(cfg))

	banditCfg, err := mapBanditConfig(cfg)
	if err != nil {
		return nil, err
	}
	selector := bandit.NewSelector(banditCfg)

	trendsEP, err := mapEndpoint("trends", cfg.Trends)
	if err != nil {
		return nil, err
	}
	publisherEP, err := mapEndpoint("publisher", cfg.Publisher)
	if err != nil {
		return nil, err
	}
	analyticsEP, err := mapEndpoint("analytics", cfg.Analytics)
	if err != nil {
		return nil, err
	}
	trendsClient := platform.NewTrendsClient(trendsEP, log.With(logx.String("comp", "trends")))
	publisher := platform.NewPublisherClient(publisherEP, log.With(logx.String("comp", "publisher")))
	analytics := platform.NewAnalyticsClient(analyticsEP, log.With(logx.String("comp", "analytics")))

	gateCfg, err := mapGateConfig(cfg)
	if err != nil {
		return nil, err
	}
	g := gate.New(gateCfg, store, publisher, bus, alerts, log.With(logx.String("comp", "gate")))

	reconcileCfg, err := mapReconcileConfig(cfg)
	if err != nil {
		return nil, err
	}
	reconciler := reconcile.New(reconcileCfg, store, analytics, bus, log.With(logx.String("comp", "reconcile")))

	engineCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engineCfg, engine.Deps{
		Store:      store,
		Ingestor:   ingestor,
		Scorer:     scorer,
		Selector:   selector,
		Gate:       g,
		Reconciler: reconciler,
		Source:     trendsClient,
		Bus:        bus,
		Log:        log.With(logx.String("comp", "engine")),
	})

	sched := schedule.New(mapScheduleConfig(cfg), log.With(logx.String("comp", "schedule")), bus)

	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	pp := pprofsvc.New(pprofCfg, log.With(logx.String("comp", "pprof")))

	a := &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		hasSender:  tg != nil,
		alerts:     alerts,
		scorer:     scorer,
		selector:   selector,
		gate:       g,
		reconciler: reconciler,
		engine:     eng,
		sched:      sched,
		pprof:      pp,
	}
	if err := a.registerCadences(cfg.Engine); err != nil {
		return nil, err
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or
// Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// Transactional reload: validate before commit/publish. Cadence spec
	// syntax lives here because the static validator leaves it to the
	// registration path.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if err := Validate(cfg); err != nil {
			return err
		}
		return validateCadences(cfg.Engine)
	})

	// Compliance self-check: surface the durable window state right after a
	// restart, before any cycle runs.
	vctx, vcancel := context.WithTimeout(a.sup.Context(), 5*time.Second)
	if v, err := a.gate.Evaluate(vctx); err != nil {
		a.log.Warn("compliance self-check failed", logx.Err(err))
	} else if v.Allowed {
		a.log.Info("compliance window clear")
	} else {
		a.log.Info("compliance window binding",
			logx.String("reason", v.Reason),
			logx.Time("next_eligible", v.NextAttemptAt),
		)
	}
	vcancel()

	if a.alerts.Enabled() {
		a.alerts.Start(a.sup.Context())
	}
	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// Journal every component event into the sqlite audit log (and the
	// debug log).
	events, unsub := a.bus.SubscribePrefix(256, journalPrefixes...)
	a.sup.Go0("events.journal", func(c context.Context) {
		defer unsub()
		a.journalLoop(c, events)
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the newest config matters.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, cfg)
				last = cfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Bool("engine", a.engine.Enabled()),
		logx.Bool("alerts", a.alerts.Enabled()),
		logx.Bool("pprof", a.pprof.Enabled()),
	)
	return nil
}

// applyConfig pushes one committed config into every service. Sections that
// cannot change at runtime (storage, collaborator endpoints) are warned
// about instead.
func (a *App) applyConfig(ctx context.Context, prev, next *Config) {
	sections, attrs := SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}
	a.log.Debug("config change summary",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required to take effect")
		case "trends", "publisher", "analytics":
			a.log.Warn("collaborator endpoint changed; restart required to take effect",
				logx.String("endpoint", s))
		}
	}

	// Log target first so enabling the Telegram sink never warns about a
	// missing chat.
	var chatID int64
	if next.Alerts != nil {
		chatID = next.Alerts.ChatID
	}
	a.logs.SetTelegramTarget(chatID)
	a.logs.Apply(mapLoggingConfig(next))

	if acfg, err := mapAlertConfig(next); err != nil {
		a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
	} else {
		was := a.alerts.Enabled()
		a.alerts.Apply(acfg)
		switch {
		case was && !acfg.Enabled:
			a.log.Info("alerts disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.alerts.Stop(stopCtx)
			cancel()
		case !was && acfg.Enabled:
			if !a.hasSender {
				a.log.Warn("alerts enabled but the process started without a telegram token; restart required to deliver")
			}
			a.log.Info("alerts enabled via config")
			a.alerts.Start(ctx)
		}
	}

	// Policy tunables; each service swaps them for its next round.
	a.scorer.Apply(mapScoringConfig(next))
	if bcfg, err := mapBanditConfig(next); err != nil {
		a.log.Warn("invalid bandit config; keeping previous", logx.Err(err))
	} else {
		a.selector.Apply(bcfg)
	}
	if gcfg, err := mapGateConfig(next); err != nil {
		a.log.Warn("invalid gate config; keeping previous", logx.Err(err))
	} else {
		a.gate.Apply(gcfg)
	}
	if rcfg, err := mapReconcileConfig(next); err != nil {
		a.log.Warn("invalid reconcile config; keeping previous", logx.Err(err))
	} else {
		a.reconciler.Apply(rcfg)
	}

	prevEng := a.engine.Enabled()
	prevSched := a.sched.Enabled()
	ecfg, eerr := mapEngineConfig(next)
	engEnabled := prevEng
	if eerr != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(eerr))
	} else {
		engEnabled = ecfg.Enabled
	}

	// Cadences stop firing before their engine goes away.
	if prevSched && !engEnabled {
		a.log.Info("engine disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	}
	if eerr == nil {
		a.engine.Apply(ctx, ecfg)
		if !prevEng && engEnabled {
			a.log.Info("engine enabled via config")
			a.engine.Start(ctx)
		}
	}
	a.sched.Apply(mapScheduleConfig(next))
	if err := a.registerCadences(next.Engine); err != nil {
		a.log.Warn("cadence update rejected; keeping previous", logx.Err(err))
	}
	if !prevSched && engEnabled {
		a.sched.Start(ctx)
	}

	if pcfg, err := mapPprofConfig(next); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.pprof.Apply(ctx, pcfg)
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding
	// immediately.
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the
	// whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
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
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			// Observe when, or whether, the step eventually finishes.
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("alerts", 2*time.Second, func(c context.Context) error { a.alerts.Stop(c); return nil })
	step("pprof", 1*time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
