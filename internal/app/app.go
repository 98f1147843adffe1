package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"regenbot/internal/config"
	"regenbot/internal/maintenance"
	"regenbot/internal/metrics"
	"regenbot/internal/observability/status"
	"regenbot/internal/query"
	"regenbot/internal/queue"
	"regenbot/internal/regen"
	rtsup "regenbot/internal/runtime/supervisor"
	"regenbot/internal/scheduler"
	"regenbot/internal/transport/telegram"
	"regenbot/internal/wiki"
	logx "regenbot/pkg/logx"
)

type App struct {
	cfgm          *config.ConfigManager
	limitOverride int

	log   logx.Logger
	logs  *logx.Service
	store *queue.SQLQueue
	reg   *prometheus.Registry

	pool    *wiki.Pool
	markers *regen.MarkerTable
	sched   *scheduler.Scheduler
	maint   *maintenance.Service
	status  *status.Service
	notify  notifier

	sup *rtsup.Supervisor
}

// New loads the config and builds every component. limitOverride > 0
// replaces scheduler.limit for the life of the process.
func New(ctx context.Context, cfgPath string, limitOverride int) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var sender logx.Sender
	if tok := strings.TrimSpace(cfg.Telegram.Token); tok != "" {
		tg, err := telegram.New(telegram.Config{Token: tok, Offline: true})
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = tg
	}

	// Set the Telegram target before enabling the sink so Apply does not
	// warn about a missing chat.
	logCfg := mapLogging(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, sender)
	logSvc.SetTelegramTarget(cfg.Logging.Telegram.ChatID, cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	cfgm.SetLogger(log)
	appLog := log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:          cfgm,
		limitOverride: limitOverride,
		log:           appLog,
		logs:          logSvc,
		reg:           prometheus.NewRegistry(),
		notify:        newSystemdNotifier(appLog),
	}
	if err := a.build(ctx, cfg, log); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(a.reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	storeCfg, err := mapStore(cfg)
	if err != nil {
		return err
	}
	store, err := queue.Open(ctx, storeCfg, log.With(logx.String("comp", "queue")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = store

	colls, err := mapCollections(cfg)
	if err != nil {
		return err
	}
	a.pool = wiki.NewPool(colls, log)
	a.pool.SetDataPrefix(cfg.Render.DataPrefix)

	def, byColl, err := mapMarkers(cfg)
	if err != nil {
		return err
	}
	a.markers = regen.NewMarkerTable(def)
	a.markers.Replace(def, byColl)

	qcfg, err := mapQuery(cfg)
	if err != nil {
		return err
	}
	eval, err := query.NewSPARQL(qcfg)
	if err != nil {
		return err
	}

	runner := &regen.Runner{
		Docs:    a.pool,
		Eval:    eval,
		Render:  mapRenderer(cfg),
		Markers: a.markers,
		Log:     log.With(logx.String("comp", "regen")),
	}

	scfg, err := mapScheduler(cfg, a.limitOverride)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(store, runner, scfg, log, m)
	a.maint = maintenance.New(store, config.CronParser, m, log)

	stcfg, err := mapStatus(cfg)
	if err != nil {
		return err
	}
	a.status = status.New(stcfg, a.reg, a.health, log)
	return nil
}

// Run syncs collections, starts the background services and runs the
// scheduler until ctx ends. It returns only on shutdown or a fatal startup
// error.
func (a *App) Run(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	if err := a.syncCollections(runCtx, cfg); err != nil {
		a.shutdown()
		return err
	}
	if mc, err := mapMaintenance(cfg); err != nil {
		a.log.Warn("invalid maintenance config; maintenance disabled", logx.Err(err))
	} else if err := a.maint.Apply(runCtx, mc); err != nil {
		a.log.Warn("maintenance not scheduled", logx.Err(err))
	}
	if sc, err := mapStatus(cfg); err == nil {
		a.status.Apply(runCtx, sc)
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go0("systemd.watchdog", a.notify.watchdog)

	a.notify.ready()
	a.log.Info("app started",
		logx.Int("limit", a.sched.Limit()),
		logx.Int("collections", len(cfg.Collections)),
		logx.String("config", a.cfgm.Path()),
	)

	err := a.sched.RunForever(runCtx)
	if err != nil {
		a.log.Error("scheduler stopped", logx.Err(err))
	}
	a.shutdown()
	return err
}

// syncCollections registers every configured collection in the store and
// applies its enabled state.
func (a *App) syncCollections(ctx context.Context, cfg *config.Config) error {
	for name, c := range cfg.Collections {
		if err := a.store.EnsureCollection(ctx, name); err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
		if err := a.store.SetCollectionStatus(ctx, name, collectionStatus(c)); err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
	}
	return nil
}

type healthReport struct {
	Status     string           `json:"status"`
	Limit      int              `json:"limit"`
	Running    int              `json:"running"`
	Eligible   []string         `json:"eligible,omitempty"`
	Queue      map[string]int64 `json:"queue,omitempty"`
	QueueError string           `json:"queue_error,omitempty"`
	Scheduler  rtsup.Snapshot   `json:"scheduler"`
	App        rtsup.Snapshot   `json:"app"`
}

func (a *App) health(ctx context.Context) any {
	h := healthReport{
		Status:    "ok",
		Limit:     a.sched.Limit(),
		Running:   a.sched.Running(),
		Eligible:  a.sched.Eligible(),
		Scheduler: a.sched.Supervisor().Snapshot(),
		App:       a.sup.Snapshot(),
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	counts, err := a.store.Counts(cctx)
	if err != nil {
		h.Status = "degraded"
		h.QueueError = err.Error()
		return h
	}
	h.Queue = make(map[string]int64, len(counts))
	for st, n := range counts {
		h.Queue[string(st)] = n
	}
	return h
}

// shutdown stops the background services. The scheduler has already drained
// by the time it runs.
func (a *App) shutdown() {
	a.notify.stopping()
	a.log.Info("stopping")
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), max)
		defer cancel()
		fn(ctx)
		if ctx.Err() != nil {
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}
	step("maintenance", 2*time.Second, func(c context.Context) { a.maint.Stop(c) })
	step("status", 2*time.Second, func(c context.Context) { a.status.Stop(c) })
	if a.sup != nil {
		step("supervisor", 2*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })
	}
	a.log.Info("stopped")
	_ = a.close()
}

func (a *App) close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
