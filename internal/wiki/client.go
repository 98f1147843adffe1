package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrMissingPage  = errors.New("page does not exist")
	ErrEditConflict = errors.New("edit conflict")
	ErrLoginFailed  = errors.New("login failed")
)

// APIError is an error object returned by the MediaWiki API, or a non-200
// HTTP reply (Status set, Code empty).
type APIError struct {
	Code   string `json:"code"`
	Info   string `json:"info"`
	Status int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("mediawiki: http %d", e.Status)
	}
	return "mediawiki: " + e.Code + ": " + e.Info
}

func (e *APIError) Is(target error) bool {
	return target == ErrEditConflict && e.Code == "editconflict"
}

// Temporary reports whether the request may succeed when retried later.
func (e *APIError) Temporary() bool {
	if e.Status == http.StatusTooManyRequests || e.Status/100 == 5 {
		return true
	}
	switch e.Code {
	case "maxlag", "ratelimited", "readonly":
		return true
	}
	return false
}

// Page is a fetched revision.
type Page struct {
	Title     string
	Text      string
	Timestamp string // revision timestamp, used to detect edit conflicts
}

type ClientConfig struct {
	APIURL         string
	Username       string // bot password user ("Name@bot"); empty skips login
	Password       string
	UserAgent      string
	EditRatePerSec float64 // 0 means unlimited
	Timeout        time.Duration
	MaxLag         int // seconds; 0 omits the maxlag parameter
}

// Client talks to one MediaWiki action API endpoint.
type Client struct {
	api    string
	ua     string
	user   string
	pass   string
	maxLag int
	edits  *rate.Limiter
	do     func(*http.Request) (*http.Response, error)

	attempts  int
	retryWait time.Duration // doubled after every temporary failure

	mu       sync.Mutex
	loggedIn bool
	csrf     string
}

func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.APIURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", cfg.APIURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	hc := &http.Client{Timeout: timeout, Jar: jar}

	limit := rate.Inf
	if cfg.EditRatePerSec > 0 {
		limit = rate.Limit(cfg.EditRatePerSec)
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "regenbot/1.0"
	}
	return &Client{
		api:    u.String(),
		ua:     ua,
		user:   cfg.Username,
		pass:   cfg.Password,
		maxLag: cfg.MaxLag,
		edits:  rate.NewLimiter(limit, 1),
		do:     hc.Do,

		attempts:  4,
		retryWait: 2 * time.Second,
	}, nil
}

// Fetch returns the latest revision of title.
func (c *Client) Fetch(ctx context.Context, title string) (Page, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return Page{}, err
	}
	var out struct {
		Query struct {
			Pages []struct {
				Title     string `json:"title"`
				Missing   bool   `json:"missing"`
				Invalid   bool   `json:"invalid"`
				Revisions []struct {
					Timestamp string `json:"timestamp"`
					Slots     struct {
						Main struct {
							Content string `json:"content"`
						} `json:"main"`
					} `json:"slots"`
				} `json:"revisions"`
			} `json:"pages"`
		} `json:"query"`
	}
	err := c.call(ctx, http.MethodGet, url.Values{
		"action":  {"query"},
		"prop":    {"revisions"},
		"titles":  {title},
		"rvprop":  {"content|timestamp"},
		"rvslots": {"main"},
	}, &out)
	if err != nil {
		return Page{}, err
	}
	if len(out.Query.Pages) == 0 {
		return Page{}, fmt.Errorf("%w: %s", ErrMissingPage, title)
	}
	p := out.Query.Pages[0]
	if p.Missing || p.Invalid || len(p.Revisions) == 0 {
		return Page{}, fmt.Errorf("%w: %s", ErrMissingPage, title)
	}
	rev := p.Revisions[0]
	return Page{Title: p.Title, Text: rev.Slots.Main.Content, Timestamp: rev.Timestamp}, nil
}

// Edit replaces the text of title. baseTimestamp, when set, makes the wiki
// reject the edit if the page changed since it was fetched. It reports
// whether a new revision was created.
func (c *Client) Edit(ctx context.Context, title, text, summary, baseTimestamp string) (bool, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return false, err
	}
	if err := c.edits.Wait(ctx); err != nil {
		return false, err
	}

	changed, err := c.edit(ctx, title, text, summary, baseTimestamp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "badtoken" {
		c.mu.Lock()
		c.csrf = ""
		c.mu.Unlock()
		changed, err = c.edit(ctx, title, text, summary, baseTimestamp)
	}
	return changed, err
}

func (c *Client) edit(ctx context.Context, title, text, summary, baseTimestamp string) (bool, error) {
	token, err := c.csrfToken(ctx)
	if err != nil {
		return false, err
	}
	params := url.Values{
		"action":  {"edit"},
		"title":   {title},
		"text":    {text},
		"summary": {summary},
		"bot":     {"1"},
		"token":   {token},
	}
	if baseTimestamp != "" {
		params.Set("basetimestamp", baseTimestamp)
	}
	var out struct {
		Edit struct {
			Result   string `json:"result"`
			NoChange bool   `json:"nochange"`
		} `json:"edit"`
	}
	if err := c.call(ctx, http.MethodPost, params, &out); err != nil {
		return false, err
	}
	if out.Edit.Result != "Success" {
		return false, fmt.Errorf("edit %s: result %q", title, out.Edit.Result)
	}
	return !out.Edit.NoChange, nil
}

func (c *Client) csrfToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.csrf
	c.mu.Unlock()
	if tok != "" {
		return tok, nil
	}
	tok, err := c.token(ctx, "csrf")
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.csrf = tok
	c.mu.Unlock()
	return tok, nil
}

func (c *Client) token(ctx context.Context, kind string) (string, error) {
	var out struct {
		Query struct {
			Tokens map[string]string `json:"tokens"`
		} `json:"query"`
	}
	if err := c.call(ctx, http.MethodGet, url.Values{"action": {"query"}, "meta": {"tokens"}, "type": {kind}}, &out); err != nil {
		return "", err
	}
	tok := out.Query.Tokens[kind+"token"]
	if tok == "" {
		return "", fmt.Errorf("mediawiki: no %s token", kind)
	}
	return tok, nil
}

// ensureLogin logs in with the bot password once per client.
func (c *Client) ensureLogin(ctx context.Context) error {
	if c.user == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}

	tok, err := c.token(ctx, "login")
	if err != nil {
		return err
	}
	var out struct {
		Login struct {
			Result string `json:"result"`
			Reason string `json:"reason"`
		} `json:"login"`
	}
	err = c.call(ctx, http.MethodPost, url.Values{
		"action":     {"login"},
		"lgname":     {c.user},
		"lgpassword": {c.pass},
		"lgtoken":    {tok},
	}, &out)
	if err != nil {
		return err
	}
	if out.Login.Result != "Success" {
		return fmt.Errorf("%w: %s %s", ErrLoginFailed, out.Login.Result, out.Login.Reason)
	}
	c.loggedIn = true
	c.csrf = ""
	return nil
}

// call retries temporary API errors (maxlag, rate limits, 5xx) with
// exponential backoff. The last error is returned once attempts run out or
// ctx ends.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	wait := c.retryWait
	for attempt := 1; ; attempt++ {
		err := c.callOnce(ctx, method, params, out)
		var apiErr *APIError
		if err == nil || attempt >= c.attempts || !errors.As(err, &apiErr) || !apiErr.Temporary() {
			return err
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		wait *= 2
	}
}

func (c *Client) callOnce(ctx context.Context, method string, params url.Values, out any) error {
	params.Set("format", "json")
	params.Set("formatversion", "2")
	if c.maxLag > 0 {
		params.Set("maxlag", fmt.Sprint(c.maxLag))
	}

	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.api, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.api+"?"+params.Encode(), http.NoBody)
	}
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.ua)

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("mediawiki %s: %w", params.Get("action"), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("mediawiki %s: %w", params.Get("action"), err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mediawiki %s: %w", params.Get("action"), &APIError{Status: resp.StatusCode})
	}

	var env struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("mediawiki %s: decode: %w", params.Get("action"), err)
	}
	if env.Error != nil {
		return env.Error
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("mediawiki %s: decode: %w", params.Get("action"), err)
	}
	return nil
}
