package wiki

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	logx "regenbot/pkg/logx"
)

var ErrUnknownCollection = errors.New("unknown collection")

const (
	DefaultSummary    = "Regenerating generated content"
	DefaultDataPrefix = "Regenbot"
)

// CollectionConfig describes one wiki the bot edits.
type CollectionConfig struct {
	APIURL         string
	Username       string
	Password       string
	UserAgent      string
	EditRatePerSec float64
	Timeout        time.Duration
	MaxLag         int

	// DataCollection receives tabular data for self-closing blocks.
	// Empty means the collection itself.
	DataCollection string
	Summary        string
}

func (c CollectionConfig) client() ClientConfig {
	return ClientConfig{
		APIURL:         c.APIURL,
		Username:       c.Username,
		Password:       c.Password,
		UserAgent:      c.UserAgent,
		EditRatePerSec: c.EditRatePerSec,
		Timeout:        c.Timeout,
		MaxLag:         c.MaxLag,
	}
}

// Pool hands out one Client per collection. Clients are created (and logged
// in) on first use; concurrent first uses share a single creation. Clients
// are never removed, so login cookies survive for the process lifetime.
type Pool struct {
	log logx.Logger

	mu         sync.RWMutex
	cfgs       map[string]CollectionConfig
	clients    map[string]*Client
	dataPrefix string

	sf singleflight.Group
}

func NewPool(cfgs map[string]CollectionConfig, log logx.Logger) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pool{
		log:        log.With(logx.String("comp", "wiki")),
		clients:    map[string]*Client{},
		dataPrefix: DefaultDataPrefix,
	}
	p.SetCollections(cfgs)
	return p
}

// SetCollections replaces the collection table. Existing clients are kept;
// new settings apply to clients created afterwards.
func (p *Pool) SetCollections(cfgs map[string]CollectionConfig) {
	cp := make(map[string]CollectionConfig, len(cfgs))
	for k, v := range cfgs {
		cp[k] = v
	}
	p.mu.Lock()
	p.cfgs = cp
	p.mu.Unlock()
}

// SetDataPrefix sets the first path segment of tabular data page titles.
func (p *Pool) SetDataPrefix(prefix string) {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultDataPrefix
	}
	p.mu.Lock()
	p.dataPrefix = prefix
	p.mu.Unlock()
}

func (p *Pool) config(collection string) (CollectionConfig, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.cfgs[collection]
	return c, ok
}

// Client returns the client for collection, creating it on first use.
func (p *Pool) Client(ctx context.Context, collection string) (*Client, error) {
	p.mu.RLock()
	c := p.clients[collection]
	p.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	v, err, _ := p.sf.Do(collection, func() (any, error) {
		p.mu.RLock()
		existing := p.clients[collection]
		p.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		cfg, ok := p.config(collection)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownCollection, collection)
		}
		nc, err := NewClient(cfg.client())
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", collection, err)
		}
		if err := nc.ensureLogin(ctx); err != nil {
			return nil, fmt.Errorf("collection %s: %w", collection, err)
		}
		p.mu.Lock()
		p.clients[collection] = nc
		p.mu.Unlock()
		p.log.Info("wiki client ready", logx.String("collection", collection), logx.String("api", nc.api))
		return nc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

func (p *Pool) Fetch(ctx context.Context, collection, target string) (Page, error) {
	c, err := p.Client(ctx, collection)
	if err != nil {
		return Page{}, err
	}
	return c.Fetch(ctx, target)
}

// Publish saves text over page, failing with ErrEditConflict when the page
// changed since it was fetched.
func (p *Pool) Publish(ctx context.Context, collection string, page Page, text string) (bool, error) {
	c, err := p.Client(ctx, collection)
	if err != nil {
		return false, err
	}
	cfg, _ := p.config(collection)
	return c.Edit(ctx, page.Title, text, summary(cfg), page.Timestamp)
}

// PublishData saves tabular data for a self-closing block of target on the
// collection's data collection.
func (p *Pool) PublishData(ctx context.Context, collection, target, text string) (bool, error) {
	cfg, ok := p.config(collection)
	if !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownCollection, collection)
	}
	dataColl := cfg.DataCollection
	if dataColl == "" {
		dataColl = collection
	}
	c, err := p.Client(ctx, dataColl)
	if err != nil {
		return false, err
	}
	return c.Edit(ctx, p.DataTitle(collection, target), text, summary(cfg), "")
}

// DataTitle is the Data: page that holds the tabular output for target.
func (p *Pool) DataTitle(collection, target string) string {
	p.mu.RLock()
	prefix := p.dataPrefix
	p.mu.RUnlock()
	return "Data:" + prefix + "/" + collection + "/" + strings.ReplaceAll(target, " ", "_") + ".tab"
}

func summary(cfg CollectionConfig) string {
	if s := strings.TrimSpace(cfg.Summary); s != "" {
		return s
	}
	return DefaultSummary
}
