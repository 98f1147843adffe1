// Package maintenance runs periodic housekeeping against the job store:
// returning old FAILED jobs to the queue and publishing per-status counts.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"regenbot/internal/metrics"
	"regenbot/internal/queue"
	logx "regenbot/pkg/logx"
)

const DefaultRequeueAfter = time.Hour

// Store is the part of the job store maintenance needs.
type Store interface {
	RequeueFailed(ctx context.Context, olderThan time.Time) (int64, error)
	Counts(ctx context.Context) (map[queue.Status]int64, error)
}

// Config schedules the jobs. An empty or "off" spec disables that job.
type Config struct {
	RequeueFailed      string
	RequeueFailedAfter time.Duration
	Stats              string
	Timezone           string
}

type Service struct {
	store  Store
	m      *metrics.Metrics
	log    logx.Logger
	parser cron.Parser
	now    func() time.Time

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
}

func New(store Store, parser cron.Parser, m *metrics.Metrics, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:  store,
		m:      m,
		log:    log.With(logx.String("comp", "maintenance")),
		parser: parser,
		now:    time.Now,
	}
}

// Apply replaces the schedule. Jobs run with ctx until the next Apply or Stop.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := 0
	add := func(name, spec string, fn func(context.Context) error) error {
		spec = strings.TrimSpace(spec)
		if spec == "" || strings.EqualFold(spec, "off") {
			return nil
		}
		_, err := c.AddFunc(spec, func() {
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("maintenance job failed", logx.String("job", name), logx.Err(err))
			}
		})
		if err != nil {
			return fmt.Errorf("maintenance %s: %w", name, err)
		}
		jobs++
		return nil
	}
	if err := add("requeue_failed", cfg.RequeueFailed, func(ctx context.Context) error {
		_, err := s.RequeueOnce(ctx, cfg.RequeueFailedAfter)
		return err
	}); err != nil {
		return err
	}
	if err := add("stats", cfg.Stats, s.StatsOnce); err != nil {
		return err
	}

	s.mu.Lock()
	old := s.c
	s.c, s.cfg = c, cfg
	s.mu.Unlock()
	if old != nil {
		<-old.Stop().Done()
	}
	c.Start()
	s.log.Info("maintenance scheduled", logx.Int("jobs", jobs), logx.String("tz", loc.String()))
	return nil
}

// Stop halts the schedule and waits for running jobs or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// RequeueOnce moves FAILED jobs older than after back to PENDING.
func (s *Service) RequeueOnce(ctx context.Context, after time.Duration) (int64, error) {
	if after <= 0 {
		after = DefaultRequeueAfter
	}
	n, err := s.store.RequeueFailed(ctx, s.now().Add(-after))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("failed jobs requeued", logx.Int64("count", n), logx.Duration("older_than", after))
	}
	return n, nil
}

// StatsOnce reads per-status job counts into the queue_jobs gauge.
func (s *Service) StatsOnce(ctx context.Context) error {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]int64, len(counts))
	for st, n := range counts {
		byName[string(st)] = n
	}
	s.m.SetQueueCounts(byName,
		string(queue.StatusPending), string(queue.StatusRunning),
		string(queue.StatusFailed), string(queue.StatusDone))
	s.log.Debug("queue stats",
		logx.Int64("pending", counts[queue.StatusPending]),
		logx.Int64("running", counts[queue.StatusRunning]),
		logx.Int64("failed", counts[queue.StatusFailed]),
		logx.Int64("done", counts[queue.StatusDone]),
	)
	return nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("maintenance timezone %q: %w", tz, err)
	}
	return loc, nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
