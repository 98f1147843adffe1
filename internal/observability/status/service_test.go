package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "regenbot/pkg/logx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "regenbot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	return New(Config{}, reg, func(context.Context) any {
		return map[string]int{"limit": 8, "running": 3}
	}, logx.Nop())
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	b, _ := io.ReadAll(rec.Body)
	return rec.Code, string(b)
}

func TestHealthzReportsState(t *testing.T) {
	t.Parallel()
	h := newTestService(t).Handler(Config{})
	code, body := get(t, h, "/healthz", nil)
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	var got map[string]int
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	if got["limit"] != 8 || got["running"] != 3 {
		t.Fatalf("body = %v", got)
	}
}

func TestMetricsExposesRegistry(t *testing.T) {
	t.Parallel()
	h := newTestService(t).Handler(Config{})
	code, body := get(t, h, "/metrics", nil)
	if code != http.StatusOK || !strings.Contains(body, "regenbot_test_total 1") {
		t.Fatalf("code = %d body = %q", code, body)
	}
}

func TestTokenRequired(t *testing.T) {
	t.Parallel()
	h := newTestService(t).Handler(Config{Token: "s3cret"})

	if code, _ := get(t, h, "/healthz", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token: code = %d", code)
	}
	if code, _ := get(t, h, "/healthz", map[string]string{"Authorization": "Bearer wrong"}); code != http.StatusUnauthorized {
		t.Fatalf("wrong token: code = %d", code)
	}
	if code, _ := get(t, h, "/healthz", map[string]string{"Authorization": "Bearer s3cret"}); code != http.StatusOK {
		t.Fatalf("bearer: code = %d", code)
	}
	if code, _ := get(t, h, "/metrics?token=s3cret", nil); code != http.StatusOK {
		t.Fatalf("query token: code = %d", code)
	}
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	if code, _ := get(t, s.Handler(Config{}), "/debug/pprof/", nil); code != http.StatusNotFound {
		t.Fatalf("pprof disabled: code = %d", code)
	}
	if code, _ := get(t, s.Handler(Config{Pprof: true}), "/debug/pprof/", nil); code != http.StatusOK {
		t.Fatalf("pprof enabled: code = %d", code)
	}
}

func TestApplyStartsAndStops(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()
	s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	t.Cleanup(func() { s.Stop(ctx) })

	var addr string
	deadline := time.Now().Add(3 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}
	if addr == "" {
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code = %d", resp.StatusCode)
	}

	s.Apply(ctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatalf("addr after disable = %q", s.Addr())
	}
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	s.cfg = Config{Enabled: true, Addr: "0.0.0.0:0"}
	if err := s.serveOnce(context.Background()); err == nil || !strings.Contains(err.Error(), "insecure bind") {
		t.Fatalf("serveOnce = %v", err)
	}
}
