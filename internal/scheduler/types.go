package scheduler

import "time"

const DefaultLimit = 8

// Config controls the scheduler. Zero values take the defaults below.
type Config struct {
	Limit     int // concurrency ceiling (default 8)
	BatchSize int // prefetch size passed to ClaimNext (default 10)
	Eligible  []string

	PollInterval   time.Duration // wait while at the limit (default 100ms)
	IdleBackoff    time.Duration // wait after an empty or failed claim (default 1s)
	ReleaseTimeout time.Duration // budget for recording an outcome (default 10s)
	DrainTimeout   time.Duration // wait for in-flight jobs on shutdown (default 30s)
	JobTimeout     time.Duration // 0 disables
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = time.Second
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = 10 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.JobTimeout < 0 {
		c.JobTimeout = 0
	}
	return c
}
