package maintenance

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"regenbot/internal/config"
	"regenbot/internal/metrics"
	"regenbot/internal/queue"
	logx "regenbot/pkg/logx"
)

type fakeStore struct {
	mu          sync.Mutex
	olderThan   time.Time
	requeued    int64
	countsCalls int
	counts      map[queue.Status]int64
}

func (f *fakeStore) RequeueFailed(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.olderThan = olderThan
	return f.requeued, nil
}

func (f *fakeStore) Counts(context.Context) (map[queue.Status]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countsCalls++
	return f.counts, nil
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countsCalls
}

func TestRequeueOnceUsesCutoff(t *testing.T) {
	t.Parallel()
	st := &fakeStore{requeued: 3}
	s := New(st, config.CronParser, nil, logx.Nop())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.RequeueOnce(context.Background(), 0)
	if err != nil || n != 3 {
		t.Fatalf("RequeueOnce = %d, %v", n, err)
	}
	if want := now.Add(-DefaultRequeueAfter); !st.olderThan.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", st.olderThan, want)
	}

	if _, err := s.RequeueOnce(context.Background(), 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	if want := now.Add(-24 * time.Hour); !st.olderThan.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", st.olderThan, want)
	}
}

func TestStatsOnceSetsGauge(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatal(err)
	}
	st := &fakeStore{counts: map[queue.Status]int64{queue.StatusPending: 5, queue.StatusFailed: 2}}
	s := New(st, config.CronParser, m, logx.Nop())
	if err := s.StatsOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := `
# HELP regenbot_queue_jobs Jobs in the store, by status.
# TYPE regenbot_queue_jobs gauge
regenbot_queue_jobs{status="DONE"} 0
regenbot_queue_jobs{status="FAILED"} 2
regenbot_queue_jobs{status="PENDING"} 5
regenbot_queue_jobs{status="RUNNING"} 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "regenbot_queue_jobs"); err != nil {
		t.Fatal(err)
	}
}

func TestApplySchedulesAndStops(t *testing.T) {
	t.Parallel()
	st := &fakeStore{counts: map[queue.Status]int64{}}
	s := New(st, config.CronParser, nil, logx.Nop())
	ctx := context.Background()
	if err := s.Apply(ctx, Config{Stats: "@every 1s", RequeueFailed: "off"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for st.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop(ctx)
	if st.calls() == 0 {
		t.Fatal("stats job never ran")
	}
}

func TestApplyRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(&fakeStore{}, config.CronParser, nil, logx.Nop())
	if err := s.Apply(context.Background(), Config{Stats: "sometimes"}); err == nil {
		t.Fatal("bad cron spec accepted")
	}
	if err := s.Apply(context.Background(), Config{Timezone: "Mars/Olympus"}); err == nil {
		t.Fatal("bad timezone accepted")
	}
}
