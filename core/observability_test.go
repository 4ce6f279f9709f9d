package core

import (
	"context"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

func TestTelemetry_ObserveOperationSuccess(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	telemetry := NewTelemetry(logger, metrics)

	telemetry.ObserveOperation(context.Background(), time.Now().UTC(), "create_signature_request", nil, map[string]any{
		"channel": "SMS",
	})

	if !hasCounter(metrics.counters, "signatures.create_signature_request.total", "success") {
		t.Fatalf("expected success counter")
	}
	if !hasHistogram(metrics.histograms, "signatures.create_signature_request.duration_ms", "success") {
		t.Fatalf("expected duration histogram")
	}
	if metrics.counters[0].tags["channel"] != "SMS" {
		t.Fatalf("expected channel tag, got %#v", metrics.counters[0].tags)
	}
	if !hasLog(logger.snapshot(), "info", "create_signature_request succeeded", "create_signature_request") {
		t.Fatalf("expected success log")
	}
}

func TestTelemetry_EnrichesStructuredErrorFields(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	telemetry := NewTelemetry(logger, metrics)

	richErr := goerrors.New("provider timeout", goerrors.CategoryExternal).
		WithCode(502).
		WithTextCode(SignatureErrorProviderFailed)
	telemetry.ObserveOperation(
		context.Background(),
		time.Now().UTC().Add(-100*time.Millisecond),
		"dispatch",
		richErr,
		map[string]any{"provider_type": "twilio"},
	)

	if !hasCounter(metrics.counters, "signatures.dispatch.total", "failure") {
		t.Fatalf("expected failure counter")
	}
	records := logger.snapshot()
	if len(records) == 0 {
		t.Fatalf("expected logs to be emitted")
	}
	last := records[len(records)-1]
	if last.level != "error" {
		t.Fatalf("expected error level, got %q", last.level)
	}
	if last.fields["error_text_code"] != SignatureErrorProviderFailed {
		t.Fatalf("expected error_text_code %q, got %#v", SignatureErrorProviderFailed, last.fields["error_text_code"])
	}
	if last.fields["error_category"] != "external" {
		t.Fatalf("expected error_category external, got %#v", last.fields["error_category"])
	}
	if last.fields["provider_type"] != "twilio" {
		t.Fatalf("expected provider_type field, got %#v", last.fields["provider_type"])
	}
}

func hasCounter(items []capturedCounter, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(items []capturedHistogram, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(items []capturedLog, level string, message string, eventType string) bool {
	for _, item := range items {
		if item.level != level {
			continue
		}
		if item.msg != message {
			continue
		}
		if item.fields["event_type"] == eventType {
			return true
		}
	}
	return false
}
