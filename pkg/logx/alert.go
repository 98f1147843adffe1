package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	alertQueueSize      = 256
	maxAlertLen         = 3500
	defaultRepeatWindow = 10 * time.Minute
	maxTrackedRepeats   = 512
)

// alertSink is a zerolog.LevelWriter that forwards log lines at or above
// MinLevel to Telegram. Lines tagged with a job target are folded: within
// the repeat window only the first alert per level, message, collection and
// target is sent, and the next one after the window reports how many were
// dropped.
type alertSink struct {
	sender Sender
	queue  chan outgoing
	now    func() time.Time

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter
	window   time.Duration
	recent   map[string]*repeat

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type repeat struct {
	sentAt time.Time
	folded int
}

type outgoing struct {
	chatID   int64
	threadID int
	text     string
}

func newAlertSink(sender Sender) *alertSink {
	return &alertSink{
		sender:   sender,
		queue:    make(chan outgoing, alertQueueSize),
		now:      time.Now,
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
		window:   defaultRepeatWindow,
		recent:   map[string]*repeat{},
	}
}

func (a *alertSink) setTarget(chatID int64, threadID int) {
	a.mu.Lock()
	a.chatID = chatID
	if threadID != 0 {
		a.threadID = threadID
	}
	a.mu.Unlock()
}

func (a *alertSink) hasTarget() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chatID != 0
}

func (a *alertSink) configure(cfg TelegramConfig) {
	a.mu.Lock()
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.RatePerSec)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		a.threadID = cfg.ThreadID
	}
	a.window = cfg.RepeatWindow
	if a.window <= 0 {
		a.window = defaultRepeatWindow
	}
	a.mu.Unlock()

	if cfg.Enabled && a.sender != nil {
		a.startOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			a.mu.Lock()
			a.cancel = cancel
			a.mu.Unlock()
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.run(ctx)
			}()
		})
	}
}

func (a *alertSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-a.queue:
			_ = a.sender.SendText(ctx, m.chatID, m.threadID, m.text)
		}
	}
}

func (a *alertSink) stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		a.wg.Wait()
	}
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.InfoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if a.sender == nil {
		return len(p), nil
	}
	a.mu.Lock()
	chatID, threadID, minLvl, lim := a.chatID, a.threadID, a.minLevel, a.limiter
	a.mu.Unlock()
	if chatID == 0 || level < minLvl {
		return len(p), nil
	}

	al := parseAlert(p)
	folded, ok := a.admit(al)
	if !ok || !lim.Allow() {
		return len(p), nil
	}
	text := al.format(folded)
	if text == "" {
		return len(p), nil
	}
	// Logging never blocks on Telegram; a full queue drops the alert.
	select {
	case a.queue <- outgoing{chatID: chatID, threadID: threadID, text: text}:
	default:
	}
	return len(p), nil
}

// admit applies the repeat window. It reports whether al should be sent and
// how many alerts with the same key were folded since the last one sent.
func (a *alertSink) admit(al alert) (int, bool) {
	key := al.key()
	if key == "" {
		return 0, true
	}
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()
	if r := a.recent[key]; r != nil && now.Sub(r.sentAt) < a.window {
		r.folded++
		return 0, false
	}
	folded := 0
	if r := a.recent[key]; r != nil {
		folded = r.folded
	}
	if len(a.recent) >= maxTrackedRepeats {
		for k, r := range a.recent {
			if now.Sub(r.sentAt) >= a.window {
				delete(a.recent, k)
			}
		}
	}
	a.recent[key] = &repeat{sentAt: now}
	return folded, true
}

// alert is a decoded zerolog JSON line.
type alert struct {
	raw string // set when the line is not JSON

	level      string
	message    string
	job        string
	collection string
	target     string
	err        string
	stack      string
	extra      []string // sorted "key=value"
}

func parseAlert(p []byte) alert {
	line := bytes.TrimSpace(p)
	m := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return alert{raw: string(line)}
	}

	take := func(k string) string {
		v, ok := m[k]
		if !ok {
			return ""
		}
		delete(m, k)
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	al := alert{
		level:      take(zerolog.LevelFieldName),
		message:    take(zerolog.MessageFieldName),
		job:        take(keyJob),
		collection: take(keyCollection),
		target:     take(keyTarget),
		err:        take(zerolog.ErrorFieldName),
		stack:      take(keyStack),
	}
	take(zerolog.TimestampFieldName)
	for k, v := range m {
		al.extra = append(al.extra, k+"="+truncate(fmt.Sprint(v), 300))
	}
	sort.Strings(al.extra)
	return al
}

func (al alert) key() string {
	if al.raw != "" || al.target == "" {
		return ""
	}
	return strings.Join([]string{al.level, al.message, al.collection, al.target}, "\x00")
}

func (al alert) format(folded int) string {
	if al.raw != "" {
		return truncate(al.raw, maxAlertLen)
	}
	var b strings.Builder
	if al.level != "" {
		b.WriteString("[" + strings.ToUpper(al.level) + "] ")
	}
	b.WriteString(al.message)
	if al.target != "" {
		b.WriteString("\n")
		if al.collection != "" {
			b.WriteString(al.collection + ": ")
		}
		b.WriteString(al.target)
		if al.job != "" {
			b.WriteString(" (job " + al.job + ")")
		}
	}
	if al.err != "" {
		b.WriteString("\nerr: " + truncate(al.err, 600))
	}
	for _, kv := range al.extra {
		b.WriteString("\n- " + kv)
	}
	if folded > 0 {
		fmt.Fprintf(&b, "\n(%d similar alerts suppressed)", folded)
	}
	if al.stack != "" {
		b.WriteString("\nstack:\n" + truncate(al.stack, 900))
	}
	return truncate(b.String(), maxAlertLen)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
