package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-signatures/core"
)

// DefaultLoggerName is the logger name used by engine components.
const DefaultLoggerName = "signatures"

// Resolve picks the logger for name with precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if name == "" {
		name = DefaultLoggerName
	}
	return glog.Resolve(name, provider, logger)
}

// NewTelemetry resolves the engine logger and pairs it with a metrics recorder.
func NewTelemetry(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
	metrics core.MetricsRecorder,
) core.Telemetry {
	_, resolved := Resolve(name, provider, logger)
	return core.NewTelemetry(resolved, metrics)
}

// JobLoggers bridges the resolved logger into the contracts go-job workers expect.
type JobLoggers struct {
	Provider job.LoggerProvider
	Logger   job.Logger
}

func ForJobs(name string, provider glog.LoggerProvider, logger glog.Logger) JobLoggers {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	out := JobLoggers{}
	if resolvedProvider != nil {
		out.Provider = job.GoLoggerProvider(resolvedProvider)
	}
	if resolvedLogger != nil {
		out.Logger = job.GoLogger(resolvedLogger)
	}
	return out
}
