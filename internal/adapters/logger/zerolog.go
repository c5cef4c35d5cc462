// Package logger provides the zerolog-backed implementation of ports.Logger.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"tradewatch/internal/ports"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds configuration for the zerolog adapter.
type Config struct {
	Level      string // debug, info, warn, error (case-insensitive)
	FilePath   string // when set, logs rotate via lumberjack in addition to stderr
	MaxSizeMB  int    // rotation threshold, lumberjack default when 0
	MaxBackups int
	MaxAgeDays int
	Console    bool // pretty console output instead of JSON on stderr
}

// Adapter implements ports.Logger on top of zerolog.
type Adapter struct {
	log zerolog.Logger
}

var _ ports.Logger = (*Adapter)(nil)

// ParseLevel maps a config string to a zerolog level, defaulting to Info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a logger from config. Always safe to use; a zero Config yields
// an Info-level JSON logger on stderr.
func New(cfg Config) *Adapter {
	var stderr io.Writer = os.Stderr
	if cfg.Console {
		stderr = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	writer := stderr
	if cfg.FilePath != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		writer = zerolog.MultiLevelWriter(stderr, rotating)
	}

	log := zerolog.New(writer).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()

	return &Adapter{log: log}
}

func (a *Adapter) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	a.emit(a.log.Debug(), msg, fields)
}

func (a *Adapter) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	a.emit(a.log.Info(), msg, fields)
}

func (a *Adapter) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	a.emit(a.log.Warn(), msg, fields)
}

func (a *Adapter) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	a.emit(a.log.Error().Err(err), msg, fields)
}

func (a *Adapter) emit(event *zerolog.Event, msg string, fields []map[string]interface{}) {
	for _, m := range fields {
		for k, v := range m {
			event = event.Interface(k, v)
		}
	}
	event.Msg(msg)
}
