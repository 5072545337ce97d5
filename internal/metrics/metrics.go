package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"academy/internal/checkin"
)

// Recorder exposes check-in decision metrics.
type Recorder struct {
	decisions *prometheus.CounterVec
	latency   prometheus.Histogram
	cache     *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "academy",
			Name:      "checkin_decisions_total",
			Help:      "Check-in attempts by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "academy",
			Name:      "checkin_evaluation_seconds",
			Help:      "Time spent evaluating check-in eligibility.",
			Buckets:   prometheus.DefBuckets,
		}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "academy",
			Name:      "subscription_cache_total",
			Help:      "Subscription cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(r.decisions, r.latency, r.cache)
	return r
}

// Outcome maps an evaluation error to a label value.
func Outcome(err error) string {
	if err == nil {
		return "accepted"
	}
	var rej *checkin.Rejection
	if errors.As(err, &rej) {
		return rej.Code()
	}
	if errors.Is(err, checkin.ErrSessionNotFound) {
		return "session_not_found"
	}
	return "error"
}

// ObserveDecision records one evaluation. A nil Recorder is a no-op.
func (r *Recorder) ObserveDecision(err error, took time.Duration) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(Outcome(err)).Inc()
	r.latency.Observe(took.Seconds())
}

// CacheHit counts a subscription cache hit.
func (r *Recorder) CacheHit() {
	if r != nil {
		r.cache.WithLabelValues("hit").Inc()
	}
}

// CacheMiss counts a subscription cache miss.
func (r *Recorder) CacheMiss() {
	if r != nil {
		r.cache.WithLabelValues("miss").Inc()
	}
}
