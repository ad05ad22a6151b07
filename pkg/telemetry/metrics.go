package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mgrandl/pacer/pkg/metrics"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pacer",
		Name:      "events_total",
		Help:      "Total scheduler and fetch events, labelled by event type.",
	}, []string{"event"})

	eventDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pacer",
		Name:      "event_duration_seconds",
		Help:      "Durations observed per event type, such as task runtime and request latency.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"event"})
)

// PromRecorder publishes recorded events on the process-wide Prometheus
// registry. The zero value is ready to use and safe to share.
type PromRecorder struct{}

var _ metrics.Recorder = PromRecorder{}

// Inc implements metrics.Recorder.
func (PromRecorder) Inc(event string) {
	eventsTotal.WithLabelValues(event).Inc()
}

// Observe implements metrics.Recorder.
func (PromRecorder) Observe(event string, d time.Duration) {
	eventDurationSeconds.WithLabelValues(event).Observe(d.Seconds())
}
