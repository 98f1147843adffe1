package app

import (
	"fmt"
	"time"

	"regenbot/internal/config"
	"regenbot/internal/maintenance"
	"regenbot/internal/observability/status"
	"regenbot/internal/query"
	"regenbot/internal/queue"
	"regenbot/internal/regen"
	"regenbot/internal/render"
	"regenbot/internal/scheduler"
	"regenbot/internal/wiki"
	logx "regenbot/pkg/logx"
)

// mapLogging expects a validated config; a bad repeat_window falls back to
// the sink's default.
func mapLogging(cfg *config.Config) logx.Config {
	repeat, _ := config.ParseDurationField("logging.telegram.repeat_window", cfg.Logging.Telegram.RepeatWindow)
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,

			RepeatWindow: repeat,
		},
	}
}

func mapStore(cfg *config.Config) (queue.Config, error) {
	busy, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return queue.Config{}, err
	}
	return queue.Config{Path: cfg.Store.Path, BusyTimeout: busy}, nil
}

// mapScheduler maps the scheduler section. limitOverride > 0 (the command
// line argument) wins over scheduler.limit.
func mapScheduler(cfg *config.Config, limitOverride int) (scheduler.Config, error) {
	s := cfg.Scheduler
	out := scheduler.Config{
		Limit:     s.Limit,
		BatchSize: s.BatchSize,
		Eligible:  append([]string(nil), s.Eligible...),
	}
	if limitOverride > 0 {
		out.Limit = limitOverride
	}
	for _, d := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"scheduler.poll_interval", s.PollInterval, &out.PollInterval},
		{"scheduler.idle_backoff", s.IdleBackoff, &out.IdleBackoff},
		{"scheduler.release_timeout", s.ReleaseTimeout, &out.ReleaseTimeout},
		{"scheduler.drain_timeout", s.DrainTimeout, &out.DrainTimeout},
		{"scheduler.job_timeout", s.JobTimeout, &out.JobTimeout},
	} {
		v, err := config.ParseDurationField(d.path, d.raw)
		if err != nil {
			return scheduler.Config{}, err
		}
		*d.dst = v
	}
	return out, nil
}

func mapQuery(cfg *config.Config) (query.SPARQLConfig, error) {
	timeout, err := config.ParseDurationField("query.timeout", cfg.Query.Timeout)
	if err != nil {
		return query.SPARQLConfig{}, err
	}
	return query.SPARQLConfig{
		Endpoint:  cfg.Query.Endpoint,
		UserAgent: cfg.Query.UserAgent,
		Timeout:   timeout,
		MaxRows:   cfg.Query.MaxRows,
	}, nil
}

func mapRenderer(cfg *config.Config) render.Dispatch {
	prefix := render.DefaultLinkPrefix
	if cfg.Render.LinkPrefix != nil {
		prefix = *cfg.Render.LinkPrefix
	}
	return render.Dispatch{
		Paired:      render.NewWikitext(prefix),
		SelfClosing: render.TabularData{License: cfg.Render.License},
	}
}

func mapCollections(cfg *config.Config) (map[string]wiki.CollectionConfig, error) {
	out := make(map[string]wiki.CollectionConfig, len(cfg.Collections))
	for name, c := range cfg.Collections {
		timeout, err := config.ParseDurationField("collections."+name+".timeout", c.Timeout)
		if err != nil {
			return nil, err
		}
		out[name] = wiki.CollectionConfig{
			APIURL:         c.APIURL,
			Username:       c.Username,
			Password:       c.Password,
			UserAgent:      c.UserAgent,
			EditRatePerSec: c.EditRatePerSec,
			Timeout:        timeout,
			MaxLag:         c.MaxLag,
			DataCollection: c.DataCollection,
			Summary:        c.Summary,
		}
	}
	return out, nil
}

// mapMarkers builds the default markers plus one entry per collection that
// overrides them.
func mapMarkers(cfg *config.Config) (regen.Markers, map[string]regen.Markers, error) {
	def, err := regen.NewMarkers(cfg.Markers.Start, cfg.Markers.End)
	if err != nil {
		return regen.Markers{}, nil, fmt.Errorf("markers: %w", err)
	}
	by := map[string]regen.Markers{}
	for name, c := range cfg.Collections {
		if len(c.Markers.Start) == 0 {
			continue
		}
		m, err := regen.NewMarkers(c.Markers.Start, c.Markers.End)
		if err != nil {
			return regen.Markers{}, nil, fmt.Errorf("collections.%s.markers: %w", name, err)
		}
		by[name] = m
	}
	return def, by, nil
}

func mapMaintenance(cfg *config.Config) (maintenance.Config, error) {
	m := cfg.Maintenance
	after, err := config.ParseDurationOrDefault("maintenance.requeue_failed_after", m.RequeueFailedAfter, maintenance.DefaultRequeueAfter)
	if err != nil {
		return maintenance.Config{}, err
	}
	stats := m.Stats
	if stats == "" {
		stats = config.DefaultStatsSpec
	}
	return maintenance.Config{
		RequeueFailed:      m.RequeueFailed,
		RequeueFailedAfter: after,
		Stats:              stats,
		Timezone:           m.Timezone,
	}, nil
}

func mapStatus(cfg *config.Config) (status.Config, error) {
	s := cfg.Status
	out := status.Config{
		Enabled:       s.Enabled,
		Addr:          s.Addr,
		Token:         s.Token,
		AllowInsecure: s.AllowInsecure,
		Pprof:         s.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("status.read_timeout", s.ReadTimeout, 10*time.Second); err != nil {
		return status.Config{}, err
	}
	// pprof profiles stream for up to 30s by default.
	if out.WriteTimeout, err = config.ParseDurationOrDefault("status.write_timeout", s.WriteTimeout, 40*time.Second); err != nil {
		return status.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("status.idle_timeout", s.IdleTimeout, 60*time.Second); err != nil {
		return status.Config{}, err
	}
	return out, nil
}

func collectionStatus(c config.CollectionConfig) string {
	if c.Disabled {
		return queue.CollectionInactive
	}
	return queue.CollectionActive
}
