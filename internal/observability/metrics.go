package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filescope",
		Name:      "submission_transitions_total",
		Help:      "Submission state transitions by resulting state.",
	}, []string{"state"})

	pollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filescope",
		Name:      "analysis_poll_attempts_total",
		Help:      "Analysis result polls by outcome.",
	}, []string{"outcome"})

	fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filescope",
		Name:      "analysis_fallbacks_total",
		Help:      "Synthetic analysis results by reason.",
	}, []string{"reason"})

	uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filescope",
		Name:      "content_uploads_total",
		Help:      "Content store uploads by outcome.",
	}, []string{"outcome"})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "filescope",
		Name:      "submission_in_flight",
		Help:      "1 while a submission is between Submitted and Confirmed.",
	})
)

func RecordTransition(state string) { transitions.WithLabelValues(state).Inc() }

func RecordPollAttempt(outcome string) { pollAttempts.WithLabelValues(outcome).Inc() }

func RecordFallback(reason string) { fallbacks.WithLabelValues(reason).Inc() }

func RecordUpload(outcome string) { uploads.WithLabelValues(outcome).Inc() }

// SetInFlight flips the in-flight gauge
func SetInFlight(active bool) {
	if active {
		inFlight.Set(1)
		return
	}
	inFlight.Set(0)
}
