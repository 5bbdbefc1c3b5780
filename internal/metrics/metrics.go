// Package metrics exposes Prometheus counters for sign-ins and diagnostic
// submissions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/boost/internal/model"
	"github.com/pavelanni/boost/internal/session"
)

var (
	// authEvents counts auth state changes.
	// Labels: event (SIGNED_IN, SIGNED_OUT)
	authEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boost",
		Subsystem: "auth",
		Name:      "events_total",
		Help:      "Auth state changes by event",
	}, []string{"event"})

	// loginFailures counts rejected sign-in attempts.
	// Labels: reason (credentials, rate_limited, invalid_input)
	loginFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boost",
		Subsystem: "auth",
		Name:      "login_failures_total",
		Help:      "Rejected sign-in attempts by reason",
	}, []string{"reason"})

	// submissions counts persisted diagnostic results.
	// Labels: level
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boost",
		Subsystem: "diagnostic",
		Name:      "submissions_total",
		Help:      "Persisted diagnostic results by level",
	}, []string{"level"})

	// scores tracks the distribution of correct answer counts.
	scores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "boost",
		Subsystem: "diagnostic",
		Name:      "correct_answers",
		Help:      "Distribution of correct answers per submission",
		Buckets:   prometheus.LinearBuckets(0, 5, 5),
	})

	// adviceRequests counts study advice calls to the LLM.
	// Labels: status (ok, error)
	adviceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boost",
		Subsystem: "advice",
		Name:      "requests_total",
		Help:      "Study advice requests by status",
	}, []string{"status"})
)

// Recorder implements diagnostic.Recorder.
type Recorder struct{}

// RecordSubmission counts a persisted diagnostic result.
func (Recorder) RecordSubmission(level model.Level, correct int) {
	submissions.WithLabelValues(string(level)).Inc()
	scores.Observe(float64(correct))
}

// ObserveAuthEvent is a session.Listener that counts auth events.
func ObserveAuthEvent(event session.Event, _ *model.Session) {
	authEvents.WithLabelValues(string(event)).Inc()
}

// LoginFailed counts a rejected sign-in.
func LoginFailed(reason string) {
	loginFailures.WithLabelValues(reason).Inc()
}

// AdviceRequested counts a study advice call.
func AdviceRequested(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	adviceRequests.WithLabelValues(status).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
