package degraded

import "time"

const bucketsPerWindow = 12

type bucket struct {
	slot    int64
	success int
	failure int
}

// outcomeWindow counts call outcomes in fixed-width buckets covering the sample window.
type outcomeWindow struct {
	width   int64
	buckets []bucket
}

func newOutcomeWindow(span time.Duration) *outcomeWindow {
	width := span / bucketsPerWindow
	if width <= 0 {
		width = time.Second
	}
	return &outcomeWindow{width: int64(width), buckets: make([]bucket, bucketsPerWindow)}
}

func (w *outcomeWindow) record(at time.Time, success bool) {
	slot := at.UnixNano() / w.width
	b := &w.buckets[int(slot%int64(len(w.buckets)))]
	if b.slot != slot {
		*b = bucket{slot: slot}
	}
	if success {
		b.success++
	} else {
		b.failure++
	}
}

func (w *outcomeWindow) totals(now time.Time) (success int, failure int) {
	current := now.UnixNano() / w.width
	oldest := current - int64(len(w.buckets)) + 1
	for _, b := range w.buckets {
		if b.slot < oldest || b.slot > current {
			continue
		}
		success += b.success
		failure += b.failure
	}
	return success, failure
}

// rate returns the failure ratio and the number of samples it was computed from.
func (w *outcomeWindow) rate(now time.Time) (float64, int) {
	success, failure := w.totals(now)
	samples := success + failure
	if samples == 0 {
		return 0, 0
	}
	return float64(failure) / float64(samples), samples
}
