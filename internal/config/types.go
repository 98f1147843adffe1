package config

// Config is the on-disk configuration (JSON, or YAML by file extension).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging     LoggingConfig               `json:"logging"`
	Telegram    TelegramConfig              `json:"telegram"`
	Store       StoreConfig                 `json:"store"`
	Scheduler   SchedulerConfig             `json:"scheduler"`
	Query       QueryConfig                 `json:"query"`
	Render      RenderConfig                `json:"render"`
	Markers     MarkersConfig               `json:"markers"`
	Collections map[string]CollectionConfig `json:"collections"`
	Maintenance MaintenanceConfig           `json:"maintenance"`
	Status      StatusConfig                `json:"status"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warnings and errors (job failures included) to a
// Telegram chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`

	// Repeated failures of one target inside this window send one alert.
	RepeatWindow string `json:"repeat_window"`
}

type TelegramConfig struct {
	Token string `json:"token"` // never logged
}

// StoreConfig locates the SQLite job store.
//
// Example:
//
//	"store": { "path": "./data/regenbot.db", "busy_timeout": "5s" }
type StoreConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the job scheduler.
//
// Defaults (when fields are omitted/zero):
//   - limit: 8 (the command line argument overrides it)
//   - batch_size: 10
//   - poll_interval: "100ms"
//   - idle_backoff: "1s"
//   - release_timeout: "10s"
//   - drain_timeout: "30s"
//   - job_timeout: "0s" (disabled)
//
// limit and eligible are applied on reload without a restart.
type SchedulerConfig struct {
	Limit          int      `json:"limit,omitempty"`
	BatchSize      int      `json:"batch_size,omitempty"`
	Eligible       []string `json:"eligible,omitempty"`
	PollInterval   string   `json:"poll_interval,omitempty"`
	IdleBackoff    string   `json:"idle_backoff,omitempty"`
	ReleaseTimeout string   `json:"release_timeout,omitempty"`
	DrainTimeout   string   `json:"drain_timeout,omitempty"`
	JobTimeout     string   `json:"job_timeout,omitempty"`
}

type QueryConfig struct {
	Endpoint  string `json:"endpoint,omitempty"` // default: Wikidata Query Service
	UserAgent string `json:"user_agent,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	MaxRows   int    `json:"max_rows,omitempty"`
}

type RenderConfig struct {
	// LinkPrefix is the interwiki prefix for entity links. Omitted means
	// ":d:"; an explicit "" links to the local wiki.
	LinkPrefix *string `json:"link_prefix,omitempty"`
	DataPrefix string  `json:"data_prefix,omitempty"`
	License    string  `json:"license,omitempty"`
}

// MarkersConfig names the marker templates. Collections may override them.
type MarkersConfig struct {
	Start []string `json:"start,omitempty"`
	End   []string `json:"end,omitempty"`
}

// CollectionConfig is one wiki whose documents carry generation blocks.
// Password is never logged.
type CollectionConfig struct {
	APIURL         string  `json:"api_url"`
	Username       string  `json:"username,omitempty"`
	Password       string  `json:"password,omitempty"`
	UserAgent      string  `json:"user_agent,omitempty"`
	EditRatePerSec float64 `json:"edit_rate_per_sec,omitempty"`
	Timeout        string  `json:"timeout,omitempty"`
	MaxLag         int     `json:"max_lag,omitempty"`
	DataCollection string  `json:"data_collection,omitempty"`
	Summary        string  `json:"summary,omitempty"`

	// Disabled marks the collection INACTIVE in the store: its jobs stay
	// queued but are not claimed.
	Disabled bool `json:"disabled,omitempty"`

	Markers MarkersConfig `json:"markers,omitempty"`
}

// MaintenanceConfig schedules periodic store jobs. Schedules are cron specs
// (5 fields or descriptors like "@every 1m"); an empty spec disables the job.
type MaintenanceConfig struct {
	RequeueFailed      string `json:"requeue_failed,omitempty"`
	RequeueFailedAfter string `json:"requeue_failed_after,omitempty"` // default "1h"
	Stats              string `json:"stats,omitempty"`                // default "@every 1m"; "off" disables
	Timezone           string `json:"timezone,omitempty"`
}

// StatusConfig controls the HTTP status server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:9477").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
