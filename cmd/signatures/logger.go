package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const levelTrace = slog.LevelDebug - 4

// slogLogger backs the glog contract with log/slog for the command line.
type slogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func newLogger(w io.Writer, level, format string) (glog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return &slogLogger{logger: slog.New(handler), ctx: context.Background()}, nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return levelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
}

func (l *slogLogger) Trace(msg string, args ...any) { l.logger.Log(l.ctx, levelTrace, msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Log(l.ctx, slog.LevelDebug, msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Log(l.ctx, slog.LevelInfo, msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Log(l.ctx, slog.LevelWarn, msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Log(l.ctx, slog.LevelError, msg, args...) }

func (l *slogLogger) Fatal(msg string, args ...any) {
	l.logger.Log(l.ctx, slog.LevelError, msg, args...)
	os.Exit(1)
}

func (l *slogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &slogLogger{logger: l.logger, ctx: ctx}
}

func (l *slogLogger) WithFields(fields map[string]any) glog.Logger {
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}
	return &slogLogger{logger: l.logger.With(args...), ctx: l.ctx}
}

var (
	_ glog.Logger       = (*slogLogger)(nil)
	_ glog.FieldsLogger = (*slogLogger)(nil)
)
