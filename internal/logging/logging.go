// Package logging provides structured JSON logging for clustering runs.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with additional context fields.
type Logger struct {
	*slog.Logger
}

type contextKey string

const (
	runIDKey     contextKey = "run_id"
	rankKey      contextKey = "rank"
	strategyKey  contextKey = "strategy"
	substrateKey contextKey = "substrate"
	startTimeKey contextKey = "start_time"
)

// RunInfo describes the run a worker belongs to.
type RunInfo struct {
	RunID     string
	Strategy  string
	Substrate string
	Rank      int
	Workers   int
}

// New creates a new Logger with JSON output.
func New() *Logger {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a new Logger with JSON output to the provided writer.
func NewWithWriter(w io.Writer) *Logger {
	return NewWithLevel(w, slog.LevelInfo)
}

// NewWithLevel creates a JSON Logger that drops records below level.
func NewWithLevel(w io.Writer, level slog.Level) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return NewWithLevel(io.Discard, slog.LevelError+1)
}

// ParseLevel maps debug, info, warn and error to their slog levels. The
// empty string selects info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// WithContext returns a logger with context values attached.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		logger = logger.With(slog.String("run_id", runID))
	}
	if strategy, ok := ctx.Value(strategyKey).(string); ok && strategy != "" {
		logger = logger.With(slog.String("strategy", strategy))
	}
	if substrate, ok := ctx.Value(substrateKey).(string); ok && substrate != "" {
		logger = logger.With(slog.String("substrate", substrate))
	}
	if rank, ok := ctx.Value(rankKey).(int); ok {
		logger = logger.With(slog.Int("rank", rank))
	}

	return &Logger{Logger: logger}
}

// WithRunInfo returns a logger with run information attached.
func (l *Logger) WithRunInfo(info *RunInfo) *Logger {
	logger := l.Logger

	if info.RunID != "" {
		logger = logger.With(slog.String("run_id", info.RunID))
	}
	if info.Strategy != "" {
		logger = logger.With(slog.String("strategy", info.Strategy))
	}
	if info.Substrate != "" {
		logger = logger.With(slog.String("substrate", info.Substrate))
	}
	if info.Workers > 0 {
		logger = logger.With(slog.Int("rank", info.Rank), slog.Int("workers", info.Workers))
	}

	return &Logger{Logger: logger}
}

// With returns a new logger with additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ContextWithRunInfo stores every non-empty field of info in the context.
func ContextWithRunInfo(ctx context.Context, info *RunInfo) context.Context {
	if info.RunID != "" {
		ctx = ContextWithRunID(ctx, info.RunID)
	}
	if info.Strategy != "" {
		ctx = context.WithValue(ctx, strategyKey, info.Strategy)
	}
	if info.Substrate != "" {
		ctx = context.WithValue(ctx, substrateKey, info.Substrate)
	}
	if info.Workers > 0 {
		ctx = ContextWithRank(ctx, info.Rank)
	}
	return ctx
}

// ContextWithRunID adds a run ID to the context.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// ContextWithRank adds a worker rank to the context.
func ContextWithRank(ctx context.Context, rank int) context.Context {
	return context.WithValue(ctx, rankKey, rank)
}

// ContextWithStartTime adds a start time to the context.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey, t)
}

// RunIDFromContext extracts the run ID from the context.
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// RankFromContext extracts the worker rank from the context.
func RankFromContext(ctx context.Context) (int, bool) {
	rank, ok := ctx.Value(rankKey).(int)
	return rank, ok
}

// StartTimeFromContext extracts the start time from the context.
func StartTimeFromContext(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// ElapsedMs returns the milliseconds elapsed since the start time.
func ElapsedMs(ctx context.Context) float64 {
	start := StartTimeFromContext(ctx)
	if start.IsZero() {
		return 0
	}
	return float64(time.Since(start).Microseconds()) / 1000.0
}
