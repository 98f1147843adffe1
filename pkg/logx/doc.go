// Package logx is regenbot's structured logging on top of zerolog.
//
// A Service owns the outputs (console, JSON file, Telegram alerts) and
// swaps them on Apply; Loggers handed out before keep working. Events
// tagged with Job(...) become per-target alerts, so a page that keeps
// failing produces one message per repeat window instead of one per run.
package logx
