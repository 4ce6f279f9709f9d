package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolvePrefersProviderThenLogger(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	provider := &capturingProvider{logger: &capturingLogger{id: "provider"}}

	_, resolved := Resolve("signatures", provider, loggerOnly)
	if got := resolved.(*capturingLogger); got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	resolvedProvider, resolved := Resolve("", nil, loggerOnly)
	if got := resolved.(*capturingLogger); got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	if _, resolved = Resolve("signatures", nil, nil); resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestNewTelemetry_LogsThroughResolvedLogger(t *testing.T) {
	logger := &capturingLogger{id: "engine"}
	telemetry := NewTelemetry("signatures", nil, logger, nil)

	telemetry.Info(context.Background(), "challenge sent", map[string]any{"channel": "SMS"})
	if logger.lastInfo.msg != "challenge sent" {
		t.Fatalf("expected telemetry to log through resolved logger, got %q", logger.lastInfo.msg)
	}
	if telemetry.Metrics == nil {
		t.Fatalf("expected nop metrics recorder when none is given")
	}
}

func TestForJobs_BridgesToGoJob(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	loggers := ForJobs("signatures", &capturingProvider{logger: providerLogger}, nil)
	if loggers.Provider == nil || loggers.Logger == nil {
		t.Fatalf("expected go-job logger bridges, got %#v", loggers)
	}

	loggers.Provider.GetLogger("signatures").Info("resume job started", "request_id", "req-1")
	captured := providerLogger.lastInfo
	if captured.msg != "resume job started" {
		t.Fatalf("expected bridged message, got %q", captured.msg)
	}
	if len(captured.args) != 2 || captured.args[0] != "request_id" || captured.args[1] != "req-1" {
		t.Fatalf("expected bridged args, got %#v", captured.args)
	}
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger *capturingLogger
}

func (p *capturingProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{msg: msg, args: append([]any(nil), args...)}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
