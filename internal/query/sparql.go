package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"regenbot/internal/block"
)

const (
	DefaultEndpoint = "https://query.wikidata.org/sparql"
	entityMarker    = "/entity/"
)

type SPARQLConfig struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration // default 60s
	MaxRows   int           // 0 means unlimited
}

// SPARQL evaluates the block's "sparql" parameter against a SPARQL endpoint.
type SPARQL struct {
	endpoint string
	ua       string
	maxRows  int
	do       func(*http.Request) (*http.Response, error)

	attempts  int
	retryWait time.Duration
}

func NewSPARQL(cfg SPARQLConfig) (*SPARQL, error) {
	ep := strings.TrimSpace(cfg.Endpoint)
	if ep == "" {
		ep = DefaultEndpoint
	}
	if u, err := url.Parse(ep); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid sparql endpoint %q", ep)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	return &SPARQL{
		endpoint:  ep,
		ua:        cfg.UserAgent,
		maxRows:   cfg.MaxRows,
		do:        hc.Do,
		attempts:  3,
		retryWait: 5 * time.Second,
	}, nil
}

type sparqlResponse struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]sparqlValue `json:"bindings"`
	} `json:"results"`
}

type sparqlValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (s *SPARQL) Evaluate(ctx context.Context, spec block.Specification) (Table, error) {
	q, ok := spec.Param("sparql")
	if !ok || strings.TrimSpace(q) == "" {
		return Table{}, ErrNoQuery
	}

	// Endpoint overload (429, 5xx) is retried with backoff.
	wait := s.retryWait
	for attempt := 1; ; attempt++ {
		t, err := s.evaluate(ctx, q)
		var se *StatusError
		if err == nil || attempt >= s.attempts || !errors.As(err, &se) || !se.Temporary() {
			return t, err
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Table{}, err
		case <-timer.C:
		}
		wait *= 2
	}
}

func (s *SPARQL) evaluate(ctx context.Context, q string) (Table, error) {
	form := url.Values{"query": {q}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Table{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")
	if s.ua != "" {
		req.Header.Set("User-Agent", s.ua)
	}

	resp, err := s.do(req)
	if err != nil {
		return Table{}, fmt.Errorf("sparql: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Table{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var sr sparqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Table{}, fmt.Errorf("sparql: decode results: %w", err)
	}
	if len(sr.Head.Vars) == 0 {
		return Table{}, errors.New("sparql: result has no variables")
	}

	t := Table{Columns: sr.Head.Vars, Rows: make([][]string, 0, len(sr.Results.Bindings))}
	for _, b := range sr.Results.Bindings {
		if s.maxRows > 0 && len(t.Rows) >= s.maxRows {
			break
		}
		row := make([]string, len(t.Columns))
		for i, v := range t.Columns {
			if cell, ok := b[v]; ok {
				row[i] = cellValue(cell)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// cellValue shortens entity URIs to their id (".../entity/Q42" -> "Q42").
func cellValue(v sparqlValue) string {
	if v.Type == "uri" {
		if i := strings.LastIndex(v.Value, entityMarker); i >= 0 {
			return v.Value[i+len(entityMarker):]
		}
	}
	return v.Value
}
