package review

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Review outcomes used as the "result" label.
const (
	resultApplied   = "applied"
	resultDuplicate = "duplicate"
	resultConflict  = "conflict"
	resultError     = "error"
)

// Metrics holds the scheduler's Prometheus collectors.
type Metrics struct {
	reviews  *prometheus.CounterVec
	duration prometheus.Histogram
	dueCards prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reviews: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_reviews_total",
			Help: "Review submissions by result",
		}, []string{"result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "recall_review_duration_seconds",
			Help:    "Time to load, schedule and persist a review",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}),
		dueCards: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "recall_due_cards",
			Help:    "Number of due cards returned per query",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}),
	}
}
