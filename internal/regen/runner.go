package regen

import (
	"context"
	"errors"
	"fmt"

	"regenbot/internal/block"
	"regenbot/internal/query"
	"regenbot/internal/queue"
	"regenbot/internal/render"
	"regenbot/internal/wiki"
	logx "regenbot/pkg/logx"
)

// ErrUnexpectedMarker is returned when a located block's name is not one of
// the collection's start aliases.
var ErrUnexpectedMarker = errors.New("unexpected marker name")

// DocumentClient reads and writes target documents.
type DocumentClient interface {
	Fetch(ctx context.Context, collection, target string) (wiki.Page, error)
	Publish(ctx context.Context, collection string, page wiki.Page, text string) (bool, error)
	PublishData(ctx context.Context, collection, target, text string) (bool, error)
}

// MarkerSource resolves the markers of a collection.
type MarkerSource interface {
	Markers(collection string) (Markers, error)
}

// Runner regenerates every block of one target document.
type Runner struct {
	Docs    DocumentClient
	Eval    query.Evaluator
	Render  render.Renderer
	Markers MarkerSource
	Log     logx.Logger
}

// Run fetches the target, regenerates each block and publishes the result.
// A document without blocks is a success with nothing to do.
func (r *Runner) Run(ctx context.Context, job queue.Job) error {
	log := r.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "regen"), logx.Job(job.ID, job.Collection, job.Target))

	m, err := r.Markers.Markers(job.Collection)
	if err != nil {
		return err
	}
	page, err := r.Docs.Fetch(ctx, job.Collection, job.Target)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", job.Target, err)
	}

	doc := m.Locator.Split(page.Text)
	if len(doc.Blocks) == 0 {
		log.Debug("no generation block")
		return nil
	}

	payloads := make([]string, len(doc.Blocks))
	for i, b := range doc.Blocks {
		out, err := r.generate(ctx, m, b)
		if err != nil {
			return fmt.Errorf("block %d (%s): %w", i+1, b.Spec.Name, err)
		}
		if !b.SelfClosing {
			payloads[i] = out
			continue
		}
		changed, err := r.Docs.PublishData(ctx, job.Collection, job.Target, out)
		if err != nil {
			return fmt.Errorf("block %d: publish data: %w", i+1, err)
		}
		log.Debug("data published", logx.Bool("changed", changed))
	}

	if len(doc.Paired()) == 0 {
		return nil
	}
	text := doc.Render(payloads)
	if text == page.Text {
		log.Debug("document unchanged")
		return nil
	}
	changed, err := r.Docs.Publish(ctx, job.Collection, page, text)
	if err != nil {
		return fmt.Errorf("publish %s: %w", job.Target, err)
	}
	log.Debug("document published", logx.Bool("changed", changed), logx.Int("blocks", len(doc.Blocks)))
	return nil
}

func (r *Runner) generate(ctx context.Context, m Markers, b *block.Block) (string, error) {
	if len(m.Aliases) > 0 && !b.Spec.Is(m.Aliases...) {
		return "", fmt.Errorf("%w %q", ErrUnexpectedMarker, b.Spec.Name)
	}
	tab, err := r.Eval.Evaluate(ctx, b.Spec)
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	out, err := r.Render.Render(b, tab)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return out, nil
}
