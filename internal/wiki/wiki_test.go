package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "regenbot/pkg/logx"
)

// fakeWiki is a minimal MediaWiki action API: bot-password login, tokens,
// revision reads and edits with basetimestamp conflict detection.
type fakeWiki struct {
	mu        sync.Mutex
	pages     map[string]fakePage
	logins    atomic.Int64
	tokenHits atomic.Int64
	badTokens int // reject this many edits with badtoken
	lagged    int // answer this many requests with a maxlag error
	hits      atomic.Int64
	requireUA string
}

type fakePage struct {
	text string
	ts   string
	revs int
}

func newFakeWiki(t *testing.T) (*fakeWiki, *httptest.Server) {
	t.Helper()
	f := &fakeWiki{pages: map[string]fakePage{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeWiki) setPage(title, text, ts string) {
	f.mu.Lock()
	f.pages[title] = fakePage{text: text, ts: ts, revs: 1}
	f.mu.Unlock()
}

func (f *fakeWiki) page(title string) fakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[title]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func apiError(w http.ResponseWriter, code, info string) {
	writeJSON(w, map[string]any{"error": map[string]string{"code": code, "info": info}})
}

func (f *fakeWiki) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.hits.Add(1)
	f.mu.Lock()
	if f.lagged > 0 {
		f.lagged--
		f.mu.Unlock()
		apiError(w, "maxlag", "Waiting for 10.64.0.1: 7 seconds lagged.")
		return
	}
	f.mu.Unlock()
	if f.requireUA != "" && r.UserAgent() != f.requireUA {
		http.Error(w, "missing user agent", http.StatusForbidden)
		return
	}
	if r.Form.Get("format") != "json" || r.Form.Get("formatversion") != "2" {
		apiError(w, "badformat", "expected json v2")
		return
	}

	switch r.Form.Get("action") {
	case "query":
		switch {
		case r.Form.Get("meta") == "tokens":
			f.tokenHits.Add(1)
			kind := r.Form.Get("type")
			writeJSON(w, map[string]any{"query": map[string]any{"tokens": map[string]string{kind + "token": kind + "-token+\\"}}})
		case r.Form.Get("prop") == "revisions":
			title := r.Form.Get("titles")
			f.mu.Lock()
			p, ok := f.pages[title]
			f.mu.Unlock()
			if !ok {
				writeJSON(w, map[string]any{"query": map[string]any{"pages": []any{map[string]any{"title": title, "missing": true}}}})
				return
			}
			writeJSON(w, map[string]any{"query": map[string]any{"pages": []any{map[string]any{
				"title": title,
				"revisions": []any{map[string]any{
					"timestamp": p.ts,
					"slots":     map[string]any{"main": map[string]any{"content": p.text}},
				}},
			}}}})
		default:
			apiError(w, "badquery", "unsupported query")
		}

	case "login":
		if r.Method != http.MethodPost || r.PostForm.Get("lgtoken") != "login-token+\\" {
			apiError(w, "badtoken", "invalid login token")
			return
		}
		if r.PostForm.Get("lgname") != "Bot@regen" || r.PostForm.Get("lgpassword") != "secret" {
			writeJSON(w, map[string]any{"login": map[string]string{"result": "Failed", "reason": "wrong password"}})
			return
		}
		f.logins.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok"})
		writeJSON(w, map[string]any{"login": map[string]string{"result": "Success"}})

	case "edit":
		if r.Method != http.MethodPost {
			apiError(w, "mustbeposted", "edit must be POSTed")
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.badTokens > 0 {
			f.badTokens--
			apiError(w, "badtoken", "Invalid CSRF token.")
			return
		}
		if r.PostForm.Get("token") != "csrf-token+\\" {
			apiError(w, "badtoken", "Invalid CSRF token.")
			return
		}
		title := r.PostForm.Get("title")
		text := r.PostForm.Get("text")
		p, exists := f.pages[title]
		if base := r.PostForm.Get("basetimestamp"); base != "" && exists && base != p.ts {
			apiError(w, "editconflict", "Edit conflict.")
			return
		}
		if exists && p.text == text {
			writeJSON(w, map[string]any{"edit": map[string]any{"result": "Success", "nochange": true}})
			return
		}
		p.text = text
		p.revs++
		p.ts = "2026-10-19T12:00:00Z"
		f.pages[title] = p
		writeJSON(w, map[string]any{"edit": map[string]any{"result": "Success", "newrevid": p.revs}})

	default:
		apiError(w, "badvalue", "unknown action")
	}
}

func TestClientFetchAndEdit(t *testing.T) {
	t.Parallel()
	f, srv := newFakeWiki(t)
	f.requireUA = "regenbot-test"
	f.setPage("List of things", "old", "2026-01-01T00:00:00Z")

	c, err := NewClient(ClientConfig{APIURL: srv.URL, UserAgent: "regenbot-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	p, err := c.Fetch(ctx, "List of things")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Text != "old" || p.Timestamp != "2026-01-01T00:00:00Z" {
		t.Fatalf("page = %+v", p)
	}

	changed, err := c.Edit(ctx, p.Title, "new", "update", p.Timestamp)
	if err != nil || !changed {
		t.Fatalf("Edit = %v, %v; want changed", changed, err)
	}
	if got := f.page("List of things").text; got != "new" {
		t.Fatalf("stored text = %q", got)
	}

	// Same text again is reported as unchanged.
	changed, err = c.Edit(ctx, p.Title, "new", "update", "")
	if err != nil || changed {
		t.Fatalf("Edit unchanged = %v, %v", changed, err)
	}

	// The stale base timestamp now conflicts.
	if _, err := c.Edit(ctx, p.Title, "newer", "update", p.Timestamp); !errors.Is(err, ErrEditConflict) {
		t.Fatalf("expected ErrEditConflict, got %v", err)
	}
	if f.tokenHits.Load() != 1 {
		t.Fatalf("csrf token fetched %d times, want 1", f.tokenHits.Load())
	}
}

func TestClientFetchMissing(t *testing.T) {
	t.Parallel()
	_, srv := newFakeWiki(t)
	c, _ := NewClient(ClientConfig{APIURL: srv.URL})
	if _, err := c.Fetch(context.Background(), "Nope"); !errors.Is(err, ErrMissingPage) {
		t.Fatalf("expected ErrMissingPage, got %v", err)
	}
}

func TestClientRefreshesBadToken(t *testing.T) {
	t.Parallel()
	f, srv := newFakeWiki(t)
	f.badTokens = 1
	c, _ := NewClient(ClientConfig{APIURL: srv.URL})
	changed, err := c.Edit(context.Background(), "Page", "text", "s", "")
	if err != nil || !changed {
		t.Fatalf("Edit = %v, %v", changed, err)
	}
	if f.tokenHits.Load() != 2 {
		t.Fatalf("token fetched %d times, want 2", f.tokenHits.Load())
	}
}

func TestClientLogin(t *testing.T) {
	t.Parallel()
	f, srv := newFakeWiki(t)

	bad, _ := NewClient(ClientConfig{APIURL: srv.URL, Username: "Bot@regen", Password: "wrong"})
	if _, err := bad.Fetch(context.Background(), "Page"); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("expected ErrLoginFailed, got %v", err)
	}

	good, _ := NewClient(ClientConfig{APIURL: srv.URL, Username: "Bot@regen", Password: "secret"})
	f.setPage("Page", "x", "t")
	for i := 0; i < 3; i++ {
		if _, err := good.Fetch(context.Background(), "Page"); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	if f.logins.Load() != 1 {
		t.Fatalf("logins = %d, want 1", f.logins.Load())
	}
}

func TestAPIErrorTemporary(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  APIError
		want bool
	}{
		{APIError{Code: "maxlag"}, true},
		{APIError{Code: "ratelimited"}, true},
		{APIError{Status: http.StatusServiceUnavailable}, true},
		{APIError{Status: http.StatusTooManyRequests}, true},
		{APIError{Status: http.StatusForbidden}, false},
		{APIError{Code: "editconflict"}, false},
		{APIError{Code: "protectedpage"}, false},
	}
	for _, tc := range cases {
		if got := tc.err.Temporary(); got != tc.want {
			t.Fatalf("%v: Temporary() = %v, want %v", tc.err.Error(), got, tc.want)
		}
	}
}

func TestClientRetriesMaxlag(t *testing.T) {
	t.Parallel()
	f, srv := newFakeWiki(t)
	f.setPage("List of authors", "old", "2026-01-01T00:00:00Z")
	f.lagged = 1

	c, _ := NewClient(ClientConfig{APIURL: srv.URL, MaxLag: 5})
	c.retryWait = time.Millisecond

	p, err := c.Fetch(context.Background(), "List of authors")
	if err != nil {
		t.Fatalf("Fetch after one maxlag reply: %v", err)
	}
	if p.Text != "old" || f.hits.Load() != 2 {
		t.Fatalf("page = %+v after %d requests", p, f.hits.Load())
	}

	f.mu.Lock()
	f.lagged = 10
	f.mu.Unlock()
	_, err = c.Fetch(context.Background(), "List of authors")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "maxlag" {
		t.Fatalf("persistent lag = %v, want maxlag error", err)
	}
	if got := f.hits.Load(); got != 2+int64(c.attempts) {
		t.Fatalf("requests = %d, want %d", got, 2+c.attempts)
	}
}

func TestClientRetryStopsOnCancel(t *testing.T) {
	t.Parallel()
	f, srv := newFakeWiki(t)
	f.lagged = 100

	c, _ := NewClient(ClientConfig{APIURL: srv.URL})
	c.retryWait = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := c.Fetch(ctx, "Anything"); err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("retry ignored context cancellation")
	}
}

func TestPoolSharesClientAndPublishesData(t *testing.T) {
	t.Parallel()
	f, srv := newFakeWiki(t)
	_, commons := newFakeWiki(t)

	p := NewPool(map[string]CollectionConfig{
		"enwiki":      {APIURL: srv.URL, Username: "Bot@regen", Password: "secret", DataCollection: "commonswiki", Summary: "bot run"},
		"commonswiki": {APIURL: commons.URL},
	}, logx.Nop())

	var wg sync.WaitGroup
	clients := make([]*Client, 8)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Client(context.Background(), "enwiki")
			if err != nil {
				t.Errorf("Client: %v", err)
				return
			}
			clients[i] = c
		}(i)
	}
	wg.Wait()
	for _, c := range clients[1:] {
		if c != clients[0] {
			t.Fatal("pool returned different clients for one collection")
		}
	}
	if f.logins.Load() != 1 {
		t.Fatalf("logins = %d, want 1", f.logins.Load())
	}

	if _, err := p.Client(context.Background(), "dewiki"); !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("expected ErrUnknownCollection, got %v", err)
	}

	changed, err := p.PublishData(context.Background(), "enwiki", "List of things", `{"data":[]}`)
	if err != nil || !changed {
		t.Fatalf("PublishData = %v, %v", changed, err)
	}
	if got := p.DataTitle("enwiki", "List of things"); got != "Data:Regenbot/enwiki/List_of_things.tab" {
		t.Fatalf("DataTitle = %q", got)
	}
	if f.page("Data:Regenbot/enwiki/List_of_things.tab").revs != 0 {
		t.Fatal("tabular data must go to the data collection, not the source wiki")
	}
}

func TestPoolPublish(t *testing.T) {
	t.Parallel()
	f, srv := newFakeWiki(t)
	f.setPage("Target", "before", "t1")
	p := NewPool(map[string]CollectionConfig{"enwiki": {APIURL: srv.URL}}, logx.Nop())

	page, err := p.Fetch(context.Background(), "enwiki", "Target")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := p.Publish(context.Background(), "enwiki", page, "after"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := f.page("Target").text; got != "after" {
		t.Fatalf("text = %q", got)
	}
}
