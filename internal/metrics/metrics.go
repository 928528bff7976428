package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the attendance engine's instruments. A nil *Recorder records nothing.
type Recorder struct {
	transitions   *prometheus.CounterVec
	toggleLatency *prometheus.HistogramVec
	storageErrors *prometheus.CounterVec
	orphansClosed prometheus.Counter
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gym",
			Subsystem: "attendance",
			Name:      "transitions_total",
			Help:      "Attendance decisions by channel (scan, manual) and outcome.",
		}, []string{"channel", "outcome"}),
		toggleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gym",
			Subsystem: "attendance",
			Name:      "toggle_duration_seconds",
			Help:      "Time spent deciding and writing an entry or exit.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"channel"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gym",
			Subsystem: "attendance",
			Name:      "storage_errors_total",
			Help:      "Storage failures surfaced as StorageUnavailable, by operation.",
		}, []string{"op"}),
		orphansClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gym",
			Subsystem: "attendance",
			Name:      "orphans_closed_total",
			Help:      "Sessions force-closed by the orphan sweep or an administrator.",
		}),
	}
	reg.MustRegister(r.transitions, r.toggleLatency, r.storageErrors, r.orphansClosed)
	return r
}

// Transition counts one decision.
func (r *Recorder) Transition(channel, outcome string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(channel, outcome).Inc()
}

// ToggleDuration observes how long a decision took since start.
func (r *Recorder) ToggleDuration(channel string, start time.Time) {
	if r == nil {
		return
	}
	r.toggleLatency.WithLabelValues(channel).Observe(time.Since(start).Seconds())
}

// StorageError counts a storage failure for op.
func (r *Recorder) StorageError(op string) {
	if r == nil {
		return
	}
	r.storageErrors.WithLabelValues(op).Inc()
}

// OrphansClosed adds n force-closed sessions.
func (r *Recorder) OrphansClosed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.orphansClosed.Add(float64(n))
}
