package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Package logging builds the process-wide structured logger.
//
// Responsibilities:
//   - JSON-encoded zap logger for all server components
//   - File output with lumberjack rotation when a log path is configured
//   - Stderr-only output in stdio transport (stdout carries the protocol)
//   - One request log entry per handled request
//   - PHI-key redaction on every field map before serialization

// Config represents logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string

	// FilePath is the optional log file path. Empty means no file output.
	FilePath string

	// MaxSizeMB is the maximum file size in megabytes before rotation.
	MaxSizeMB int

	// MaxBackups is the maximum number of rotated files to retain.
	MaxBackups int

	// MaxAgeDays is the maximum number of days to retain rotated files.
	MaxAgeDays int

	// Compress determines whether rotated files are gzipped.
	Compress bool

	// StderrOnly forces all console output to stderr. Required in stdio
	// transport where stdout is the JSON-RPC channel.
	StderrOnly bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
		StderrOnly: true,
	}
}

// New creates a zap logger according to cfg.
func New(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	cores := make([]zapcore.Core, 0, 2)

	// Console output. Always stderr: in SSE transport it is merely tidy,
	// in stdio transport it is mandatory.
	cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))

	// File output with rotation.
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, nil
}

// RequestOutcome labels the terminal state of a handled request.
type RequestOutcome string

const (
	OutcomeOK          RequestOutcome = "ok"
	OutcomeError       RequestOutcome = "error"
	OutcomeTimeout     RequestOutcome = "timeout"
	OutcomeRateLimited RequestOutcome = "rate_limited"
	OutcomeDenied      RequestOutcome = "unauthorized"
)

// LogRequest emits the per-request log entry required of every handled
// JSON-RPC request. Extra fields go through Redact before serialization.
func LogRequest(logger *zap.Logger, requestID, sessionID, method string, duration time.Duration, outcome RequestOutcome, extra map[string]interface{}) {
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("session_id", sessionID),
		zap.String("method", method),
		zap.Int64("duration_ms", duration.Milliseconds()),
		zap.String("outcome", string(outcome)),
	}
	for k, v := range Redact(extra) {
		fields = append(fields, zap.Any(k, v))
	}
	logger.Info("request", fields...)
}
