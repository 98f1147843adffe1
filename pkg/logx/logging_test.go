package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAlertFormatJobFailure(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"job failed","job":1234567,"collection":"enwiki","target":"List of authors","err":"query endpoint returned 502","took":1200,"comp":"scheduler"}` + "\n")
	got := parseAlert(line).format(0)
	want := "[WARN] job failed\nenwiki: List of authors (job 1234567)\nerr: query endpoint returned 502\n- comp=scheduler\n- took=1200"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestAlertFormatStackAndFolded(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"error","message":"job panicked","target":"X","stack":"a\nb","panic":"nil table"}`)
	got := parseAlert(line).format(3)
	want := "[ERROR] job panicked\nX\n- panic=nil table\n(3 similar alerts suppressed)\nstack:\na\nb"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}

	if got := parseAlert([]byte("  plain text \n")).format(0); got != "plain text" {
		t.Fatalf("non-JSON line = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}

type recordSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordSender) SendText(_ context.Context, _ int64, _ int, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	return nil
}

func (r *recordSender) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func waitSent(t *testing.T, rs *recordSender, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(rs.all()) < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return rs.all()
}

func TestTelegramSinkHonoursMinLevel(t *testing.T) {
	t.Parallel()
	rs := &recordSender{}
	svc, log := New(Config{Level: "debug"}, rs)
	defer svc.Close()
	svc.SetTelegramTarget(42, 0)
	svc.Apply(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}})

	log.Info("routine")
	log.Warn("edit conflict", String("comp", "wiki"))

	msgs := waitSent(t, rs, 1)
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "[WARN] edit conflict") {
		t.Fatalf("sent = %q", msgs)
	}
}

func TestRepeatedJobFailuresAreFolded(t *testing.T) {
	t.Parallel()
	rs := &recordSender{}
	a := newAlertSink(rs)
	defer a.stop()
	a.setTarget(42, 0)
	a.configure(TelegramConfig{Enabled: true, RatePerSec: 100, RepeatWindow: time.Minute})
	clock := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }

	zl := zerolog.New(a)
	fail := func(target string) {
		zl.Warn().Int64(keyJob, 7).Str(keyCollection, "enwiki").Str(keyTarget, target).Msg("job failed")
	}

	fail("List of authors")
	fail("List of authors")
	fail("List of authors")
	fail("List of painters")
	if msgs := waitSent(t, rs, 2); len(msgs) != 2 {
		t.Fatalf("inside the window sent %d alerts, want 2: %q", len(msgs), msgs)
	}

	clock = clock.Add(2 * time.Minute)
	fail("List of authors")
	msgs := waitSent(t, rs, 3)
	if len(msgs) != 3 || !strings.Contains(msgs[2], "(2 similar alerts suppressed)") {
		t.Fatalf("after the window = %q", msgs)
	}
}

func TestJobField(t *testing.T) {
	t.Parallel()
	var buf strings.Builder
	zl := zerolog.New(&buf)
	l := Logger{fixed: &zl}.With(Job(12, "enwiki", "List of authors"))
	l.Warn("job failed")
	out := buf.String()
	for _, want := range []string{`"job":12`, `"collection":"enwiki"`, `"target":"List of authors"`, `"caller":"logging_test.go:`} {
		if !strings.Contains(out, want) {
			t.Fatalf("%s missing from %s", want, out)
		}
	}
}

func TestNopAndWith(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	zero.Info("discarded")
	if Nop().IsZero() {
		t.Fatal("Nop is not the zero value")
	}
	l := Nop().With(String("comp", "x"))
	l.Info("discarded")
}
