package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string // default ./regenbot.log
}

// TelegramConfig controls the alert sink.
type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string // default warn
	RatePerSec int    // default 1

	// Repeated alerts for the same job target inside this window are folded
	// into the next one sent. Default 10m.
	RepeatWindow time.Duration
}

// Sender delivers a text message to a chat. nil disables Telegram alerts.
type Sender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

func init() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
}

// Service owns the log outputs and swaps them on Apply.
type Service struct {
	mu     sync.Mutex
	file   *os.File
	alerts *alertSink
	root   atomic.Pointer[zerolog.Logger]
}

// New builds the service from cfg and returns it with a root Logger.
func New(cfg Config, sender Sender) (*Service, Logger) {
	s := &Service{alerts: newAlertSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetTelegramTarget sets the chat alerts go to. threadID 0 keeps the
// configured thread.
func (s *Service) SetTelegramTarget(chatID int64, threadID int) {
	s.alerts.setTarget(chatID, threadID)
}

// Apply rebuilds the outputs. Loggers handed out earlier pick up the change.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	prev := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./regenbot.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}

	s.alerts.configure(cfg.Telegram)
	if cfg.Telegram.Enabled {
		if !s.alerts.hasTarget() {
			fmt.Fprintln(os.Stderr, "logx: telegram alerts enabled without a chat id")
		}
		outs = append(outs, s.alerts)
	}

	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if prev != nil {
		_ = prev.Close()
	}
}

// Close stops the alert sender and closes the log file.
func (s *Service) Close() error {
	s.alerts.stop()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return def
}
