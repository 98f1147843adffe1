package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field adds keys to a log event. Fields apply in order, so on a duplicate
// key the later one wins.
type Field func(e *zerolog.Event)

func String(k, v string) Field                 { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field                { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field            { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Bool(k string, v bool) Field              { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }
func Any(k string, v any) Field                { return func(e *zerolog.Event) { e.Interface(k, v) } }

func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

func Stack(stack string) Field {
	return func(e *zerolog.Event) {
		if strings.TrimSpace(stack) != "" {
			e.Str(keyStack, stack)
		}
	}
}

// Job tags an event with the queue job it concerns. Telegram alerts carrying
// these keys are grouped per collection and target.
func Job(id int64, collection, target string) Field {
	return func(e *zerolog.Event) {
		e.Int64(keyJob, id).Str(keyCollection, collection).Str(keyTarget, target)
	}
}

const (
	keyJob        = "job"
	keyCollection = "collection"
	keyTarget     = "target"
	keyStack      = "stack"
)
