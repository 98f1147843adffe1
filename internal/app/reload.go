package app

import (
	"context"
	"slices"
	"strings"

	"regenbot/internal/config"
	logx "regenbot/pkg/logx"
)

// Sections that are read once at startup.
var restartSections = []string{"query", "render", "store", "telegram"}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

// applyConfig hot-applies everything that can change without a restart.
func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs, colls := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if slices.Contains(restartSections, s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.SetTelegramTarget(cfg.Logging.Telegram.ChatID, cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogging(cfg))

	if sc, err := mapScheduler(cfg, a.limitOverride); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.SetLimit(sc.Limit)
		a.sched.SetEligible(sc.Eligible)
	}

	if len(colls) > 0 {
		if wc, err := mapCollections(cfg); err != nil {
			a.log.Warn("invalid collections config; keeping previous", logx.Err(err))
		} else {
			a.pool.SetCollections(wc)
		}
		if err := a.syncCollections(ctx, cfg); err != nil {
			a.log.Warn("collection sync failed", logx.Err(err))
		}
	}
	a.pool.SetDataPrefix(cfg.Render.DataPrefix)

	if def, by, err := mapMarkers(cfg); err != nil {
		a.log.Warn("invalid markers; keeping previous", logx.Err(err))
	} else {
		a.markers.Replace(def, by)
	}

	if mc, err := mapMaintenance(cfg); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else if err := a.maint.Apply(ctx, mc); err != nil {
		a.log.Warn("maintenance not rescheduled", logx.Err(err))
	}

	if sc, err := mapStatus(cfg); err != nil {
		a.log.Warn("invalid status config; keeping previous", logx.Err(err))
	} else {
		a.status.Apply(ctx, sc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if len(colls) > 0 {
		fields = append(fields, logx.String("collections", strings.Join(colls, ",")))
	}
	a.log.Info("config reloaded", fields...)
}
