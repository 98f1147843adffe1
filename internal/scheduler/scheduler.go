package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"regenbot/internal/metrics"
	"regenbot/internal/queue"
	rtsup "regenbot/internal/runtime/supervisor"
	logx "regenbot/pkg/logx"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

// Runner performs one job. A nil error means the job is done.
type Runner interface {
	Run(ctx context.Context, job queue.Job) error
}

type RunnerFunc func(ctx context.Context, job queue.Job) error

func (f RunnerFunc) Run(ctx context.Context, job queue.Job) error { return f(ctx, job) }

// Scheduler claims jobs from a queue and runs up to Limit of them at once.
type Scheduler struct {
	q   queue.Queue
	run Runner
	log logx.Logger
	m   *metrics.Metrics
	cfg Config

	limit   atomic.Int64
	running atomic.Int64
	active  atomic.Bool

	mu       sync.Mutex
	eligible []string
	sup      *rtsup.Supervisor
}

func New(q queue.Queue, run Runner, cfg Config, log logx.Logger, m *metrics.Metrics) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Scheduler{
		q:   q,
		run: run,
		log: log.With(logx.String("comp", "scheduler")),
		m:   m,
		cfg: cfg,
	}
	s.limit.Store(int64(cfg.Limit))
	s.eligible = append([]string(nil), cfg.Eligible...)
	m.SetLimit(cfg.Limit)
	return s
}

func (s *Scheduler) Running() int { return int(s.running.Load()) }
func (s *Scheduler) Limit() int   { return int(s.limit.Load()) }

// SetLimit changes the concurrency ceiling. Jobs already running are not
// interrupted when the limit shrinks; no new job starts until running drops
// below it.
func (s *Scheduler) SetLimit(n int) {
	if n < 1 {
		s.log.Warn("ignoring invalid limit", logx.Int("limit", n))
		return
	}
	if old := s.limit.Swap(int64(n)); old != int64(n) {
		s.log.Info("limit changed", logx.Int64("from", old), logx.Int("to", n))
	}
	s.m.SetLimit(n)
}

// SetEligible restricts claims to the given collections. Empty means all
// active collections.
func (s *Scheduler) SetEligible(collections []string) {
	s.mu.Lock()
	s.eligible = append([]string(nil), collections...)
	s.mu.Unlock()
}

func (s *Scheduler) Eligible() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.eligible...)
}

// Supervisor returns the supervisor of the current run (nil before RunForever).
func (s *Scheduler) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// RunForever resets jobs left RUNNING by a previous process, then claims and
// starts jobs until ctx is cancelled. It never waits on a job while the
// limit allows another one to start. On cancellation it waits up to
// DrainTimeout for in-flight jobs to release.
//
// The only error it returns is a failed stale reset at startup.
func (s *Scheduler) RunForever(ctx context.Context) error {
	if !s.active.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.active.Store(false)

	n, err := s.q.ResetStaleRunning(ctx)
	if err != nil {
		return fmt.Errorf("reset stale jobs: %w", err)
	}
	if n > 0 {
		s.log.Info("stale jobs reset", logx.Int64("count", n))
	}

	sup := rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.mu.Lock()
	s.sup = sup
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.Int("limit", s.Limit()), logx.Int("batch", s.cfg.BatchSize))

	for ctx.Err() == nil {
		if s.running.Load() >= s.limit.Load() {
			sleepCtx(ctx, s.cfg.PollInterval)
			continue
		}

		job, ok, err := s.q.ClaimNext(ctx, s.Eligible(), s.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.m.ClaimError()
			s.log.Warn("claim failed", logx.Err(err))
			sleepCtx(ctx, s.cfg.IdleBackoff)
			continue
		}
		if !ok {
			sleepCtx(ctx, s.cfg.IdleBackoff)
			continue
		}

		s.running.Add(1)
		s.m.JobClaimed()
		// One stats entry covers every job; the id is in the job's log fields.
		sup.Go0("job", func(ctx context.Context) {
			s.execute(ctx, job)
		})
	}

	s.log.Info("scheduler stopping", logx.Int("running", s.Running()))
	waitCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()
	if err := sup.Wait(waitCtx); err != nil && errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("jobs still running after drain timeout", logx.Int("running", s.Running()))
	}
	return nil
}

// execute runs one job and always releases it. Errors and panics become
// FAILED; a job interrupted by shutdown goes back to PENDING.
func (s *Scheduler) execute(ctx context.Context, job queue.Job) {
	start := time.Now()
	log := s.log.With(logx.Job(job.ID, job.Collection, job.Target))

	outcome, label, note := queue.StatusFailed, metrics.OutcomeFailed, ""
	defer func() {
		s.release(log, job.ID, outcome, note)
		s.running.Add(-1)
		s.m.JobFinished(label, time.Since(start))
	}()
	defer func() {
		if r := recover(); r != nil {
			outcome, label = queue.StatusFailed, metrics.OutcomePanic
			note = truncate(fmt.Sprintf("panic: %v", r), 500)
			log.Error("job panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	log.Debug("job started")
	runCtx := ctx
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	err := s.run.Run(runCtx, job)
	took := time.Since(start)
	switch {
	case err == nil:
		outcome, label = queue.StatusDone, metrics.OutcomeDone
		log.Info("job done", logx.Duration("took", took))
	case ctx.Err() != nil:
		outcome, label, note = queue.StatusPending, metrics.OutcomeRequeued, "interrupted"
		log.Info("job interrupted, requeued", logx.Duration("took", took))
	default:
		note = truncate(err.Error(), 500)
		log.Warn("job failed", logx.Err(err), logx.Duration("took", took))
	}
}

// release records the outcome on a context of its own so shutdown does not
// leave the job RUNNING. Store errors are retried until ReleaseTimeout.
func (s *Scheduler) release(log logx.Logger, id int64, outcome queue.Status, note string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReleaseTimeout)
	defer cancel()

	backoff := 50 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := s.q.Release(ctx, id, outcome, note)
		if err == nil {
			return
		}
		if !queue.IsTransient(err) {
			log.Error("release failed", logx.Err(err), logx.String("outcome", string(outcome)))
			return
		}
		log.Warn("release failed, retrying", logx.Err(err), logx.Int("attempt", attempt))
		if !sleepCtx(ctx, backoff) {
			log.Error("release gave up; job stays RUNNING until next start", logx.String("outcome", string(outcome)))
			return
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
