package config

import (
	"reflect"
	"sort"
	"strings"

	logx "regenbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens
// or passwords), and (3) the names of collections that were added, removed or
// changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Token only as "set or not".
	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""))
	}

	if !reflect.DeepEqual(oldCfg.Store, newCfg.Store) {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.path", strings.TrimSpace(newCfg.Store.Path)),
			logx.String("store.busy_timeout", strings.TrimSpace(newCfg.Store.BusyTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.limit", newCfg.Scheduler.Limit),
			logx.Int("scheduler.batch_size", newCfg.Scheduler.BatchSize),
			logx.Int("scheduler.eligible_count", len(newCfg.Scheduler.Eligible)),
			logx.String("scheduler.job_timeout", strings.TrimSpace(newCfg.Scheduler.JobTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Query, newCfg.Query) {
		changed = append(changed, "query")
		attrs = append(attrs,
			logx.String("query.endpoint", strings.TrimSpace(newCfg.Query.Endpoint)),
			logx.String("query.timeout", strings.TrimSpace(newCfg.Query.Timeout)),
			logx.Int("query.max_rows", newCfg.Query.MaxRows),
		)
	}

	if !reflect.DeepEqual(oldCfg.Render, newCfg.Render) {
		changed = append(changed, "render")
	}
	if !reflect.DeepEqual(oldCfg.Markers, newCfg.Markers) {
		changed = append(changed, "markers")
		attrs = append(attrs, logx.String("markers.start", strings.Join(newCfg.Markers.Start, "|")))
	}

	if !reflect.DeepEqual(oldCfg.Maintenance, newCfg.Maintenance) {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.String("maintenance.requeue_failed", strings.TrimSpace(newCfg.Maintenance.RequeueFailed)),
			logx.String("maintenance.stats", strings.TrimSpace(newCfg.Maintenance.Stats)),
		)
	}

	o, n := oldCfg.Status, newCfg.Status
	if o.Enabled != n.Enabled || o.Addr != n.Addr || o.Pprof != n.Pprof || o.AllowInsecure != n.AllowInsecure ||
		o.ReadTimeout != n.ReadTimeout || o.WriteTimeout != n.WriteTimeout || o.IdleTimeout != n.IdleTimeout ||
		o.Token != n.Token {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", n.Enabled),
			logx.String("status.addr", strings.TrimSpace(n.Addr)),
			logx.Bool("status.pprof", n.Pprof),
			logx.Bool("status.token_set", strings.TrimSpace(n.Token) != ""),
		)
	}

	collChanged := diffCollections(oldCfg.Collections, newCfg.Collections)
	if len(collChanged) > 0 {
		changed = append(changed, "collections")
		attrs = append(attrs,
			logx.Int("collections.changed_count", len(collChanged)),
			logx.Int("collections.count", len(newCfg.Collections)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, collChanged
}

func diffCollections(oldM, newM map[string]CollectionConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
