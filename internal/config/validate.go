package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

const (
	DefaultStatusAddr = "127.0.0.1:9477"
	DefaultStatsSpec  = "@every 1m"
)

// CronParser accepts standard 5-field specs and descriptors ("@hourly",
// "@every 10m").
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a parsed config. It reports every problem it finds, not
// only the first.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Store.Path) == "" {
		add("store.path is required")
	}
	dur("store.busy_timeout", cfg.Store.BusyTimeout)

	s := cfg.Scheduler
	if s.Limit < 0 {
		add("scheduler.limit must be >= 0")
	}
	if s.BatchSize < 0 {
		add("scheduler.batch_size must be >= 0")
	}
	dur("scheduler.poll_interval", s.PollInterval)
	dur("scheduler.idle_backoff", s.IdleBackoff)
	dur("scheduler.release_timeout", s.ReleaseTimeout)
	dur("scheduler.drain_timeout", s.DrainTimeout)
	dur("scheduler.job_timeout", s.JobTimeout)
	for _, name := range s.Eligible {
		if _, ok := cfg.Collections[name]; !ok {
			add("scheduler.eligible: unknown collection %q", name)
		}
	}

	if ep := strings.TrimSpace(cfg.Query.Endpoint); ep != "" && !validURL(ep) {
		add("query.endpoint: invalid url %q", ep)
	}
	dur("query.timeout", cfg.Query.Timeout)
	if cfg.Query.MaxRows < 0 {
		add("query.max_rows must be >= 0")
	}

	if len(cfg.Collections) == 0 {
		add("collections: at least one collection is required")
	}
	names := make([]string, 0, len(cfg.Collections))
	for name := range cfg.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := cfg.Collections[name]
		p := "collections." + name
		if strings.TrimSpace(name) == "" {
			add("collections: empty collection name")
		}
		if !validURL(c.APIURL) {
			add("%s.api_url: invalid url %q", p, c.APIURL)
		}
		if (c.Username == "") != (c.Password == "") {
			add("%s: username and password must be set together", p)
		}
		if c.EditRatePerSec < 0 {
			add("%s.edit_rate_per_sec must be >= 0", p)
		}
		dur(p+".timeout", c.Timeout)
		if dc := c.DataCollection; dc != "" {
			if _, ok := cfg.Collections[dc]; !ok {
				add("%s.data_collection: unknown collection %q", p, dc)
			}
		}
		if (len(c.Markers.Start) == 0) != (len(c.Markers.End) == 0) {
			add("%s.markers: start and end must be set together", p)
		}
	}
	if (len(cfg.Markers.Start) == 0) != (len(cfg.Markers.End) == 0) {
		add("markers: start and end must be set together")
	}

	m := cfg.Maintenance
	for path, spec := range map[string]string{"maintenance.requeue_failed": m.RequeueFailed, "maintenance.stats": m.Stats} {
		spec = strings.TrimSpace(spec)
		if spec == "" || strings.EqualFold(spec, "off") {
			continue
		}
		if _, err := CronParser.Parse(spec); err != nil {
			add("%s: invalid cron spec %q: %v", path, spec, err)
		}
	}
	dur("maintenance.requeue_failed_after", m.RequeueFailedAfter)

	st := cfg.Status
	if st.Enabled {
		addr := strings.TrimSpace(st.Addr)
		if addr == "" {
			addr = DefaultStatusAddr
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			add("status.addr: %v", err)
		} else if !isLoopback(host) && strings.TrimSpace(st.Token) == "" && !st.AllowInsecure {
			add("status.addr %q is not loopback: set status.token or status.allow_insecure", addr)
		}
	}
	dur("status.read_timeout", st.ReadTimeout)
	dur("status.write_timeout", st.WriteTimeout)
	dur("status.idle_timeout", st.IdleTimeout)

	dur("logging.telegram.repeat_window", cfg.Logging.Telegram.RepeatWindow)
	if cfg.Logging.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			add("logging.telegram requires telegram.token")
		}
		if cfg.Logging.Telegram.ChatID == 0 {
			add("logging.telegram.chat_id is required")
		}
	}

	return errors.Join(errs...)
}

func validURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
