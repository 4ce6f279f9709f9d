package otelmetrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/goliatone/go-signatures/core"
)

var ErrNilMeter = errors.New("otelmetrics: nil meter")

// Recorder implements core.MetricsRecorder on an OpenTelemetry meter. Instruments
// are created on first use and cached by name.
type Recorder struct {
	meter metric.Meter

	mu         sync.RWMutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	onError    func(error)
}

type Option func(*Recorder)

// WithErrorHandler receives instrument creation failures, which are otherwise dropped.
func WithErrorHandler(fn func(error)) Option {
	return func(r *Recorder) {
		r.onError = fn
	}
}

func NewRecorder(meter metric.Meter, opts ...Option) (*Recorder, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	r := &Recorder{
		meter:      meter,
		counters:   map[string]metric.Int64Counter{},
		histograms: map[string]metric.Float64Histogram{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *Recorder) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	counter, err := r.counter(name)
	if err != nil {
		r.report(err)
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attributesOf(tags)...))
}

func (r *Recorder) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	histogram, err := r.histogram(name)
	if err != nil {
		r.report(err)
		return
	}
	histogram.Record(ctx, value, metric.WithAttributes(attributesOf(tags)...))
}

func (r *Recorder) counter(name string) (metric.Int64Counter, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	counter, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return counter, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok = r.counters[name]; ok {
		return counter, nil
	}
	counter, err := r.meter.Int64Counter(name)
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: create counter %s: %w", name, err)
	}
	r.counters[name] = counter
	return counter, nil
}

func (r *Recorder) histogram(name string) (metric.Float64Histogram, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	histogram, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return histogram, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if histogram, ok = r.histograms[name]; ok {
		return histogram, nil
	}
	histogram, err := r.meter.Float64Histogram(name)
	if err != nil {
		return nil, fmt.Errorf("otelmetrics: create histogram %s: %w", name, err)
	}
	r.histograms[name] = histogram
	return histogram, nil
}

func (r *Recorder) report(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}

func attributesOf(tags map[string]string) []attribute.KeyValue {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, attribute.String(key, tags[key]))
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
