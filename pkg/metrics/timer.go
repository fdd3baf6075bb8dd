package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timer measures elapsed wall-clock time and reports it to a histogram,
// following the dispatch cycle's own pattern of timing a bounded unit of
// work (spec §4.8: "the dispatch cycle" as a timed step).
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed duration, in seconds, on hist.
func (t *Timer) ObserveDuration(hist prometheus.Histogram) {
	hist.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed duration, in seconds, on the
// single-label series identified by label.
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, label string) {
	vec.WithLabelValues(label).Observe(t.Duration().Seconds())
}
