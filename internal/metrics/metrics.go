// Package metrics holds the prometheus collectors for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the pipeline collectors. Build one per process with New.
type Metrics struct {
	JobsSubmitted       prometheus.Counter
	IntakeFailures      *prometheus.CounterVec
	PredictionsComplete prometheus.Counter
	PredictionsErrored  *prometheus.CounterVec
	DuplicatesDiscarded prometheus.Counter
	RetryableFailures   *prometheus.CounterVec
	InferenceDuration   prometheus.Histogram
	EventsReceived      *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "aiscore_jobs_submitted_total",
			Help: "Total number of jobs admitted by intake.",
		}),
		IntakeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aiscore_intake_failures_total",
			Help: "Intake failures by stage.",
		}, []string{"stage"}),
		PredictionsComplete: f.NewCounter(prometheus.CounterOpts{
			Name: "aiscore_predictions_complete_total",
			Help: "Predictions committed as complete.",
		}),
		PredictionsErrored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aiscore_predictions_errored_total",
			Help: "Predictions committed as error, by reason.",
		}, []string{"reason"}),
		DuplicatesDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "aiscore_duplicates_discarded_total",
			Help: "Worker deliveries that found the prediction already terminal.",
		}),
		RetryableFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aiscore_retryable_failures_total",
			Help: "Worker deliveries left pending for redelivery, by cause.",
		}, []string{"cause"}),
		InferenceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aiscore_inference_duration_seconds",
			Help:    "Latency of inference endpoint calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aiscore_events_received_total",
			Help: "Notifications consumed from the broker, by outcome.",
		}, []string{"outcome"}),
	}
}

// NewNop returns collectors registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
