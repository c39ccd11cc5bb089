// Package logging builds the zap loggers used across ocrtrain.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a log level name.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Style selects the log encoding.
type Style string

const (
	StyleConsole Style = "console"
	StyleJSON    Style = "json"
)

// Config describes a logger. Zero values mean info level, console style.
type Config struct {
	Level Level
	Style Style
}

// ParseLevel converts a level name to a zap level.
func ParseLevel(l Level) (zapcore.Level, error) {
	switch Level(strings.ToLower(string(l))) {
	case "", LevelInfo:
		return zapcore.InfoLevel, nil
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelWarn, "warning":
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", l)
	}
}

// ValidStyle reports whether s names a known style. Empty is allowed.
func ValidStyle(s Style) bool {
	switch Style(strings.ToLower(string(s))) {
	case "", StyleConsole, StyleJSON:
		return true
	}
	return false
}

// New creates a logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	return NewWithSink(cfg, zapcore.Lock(os.Stderr))
}

// NewWithSink creates a logger writing to ws.
func NewWithSink(cfg Config, ws zapcore.WriteSyncer) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if !ValidStyle(cfg.Style) {
		return nil, fmt.Errorf("unknown log style: %s", cfg.Style)
	}

	var encoder zapcore.Encoder
	if Style(strings.ToLower(string(cfg.Style))) == StyleJSON {
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(ec)
	} else {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		ec.CallerKey = ""
		encoder = zapcore.NewConsoleEncoder(ec)
	}

	core := zapcore.NewCore(encoder, ws, level)
	return zap.New(core), nil
}
