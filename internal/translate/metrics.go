package translate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes used as the "outcome" label of novelt_translate_runs_total.
const (
	outcomeSingle   = "single"
	outcomeGood     = "good"
	outcomeBest     = "best"
	outcomeFallback = "fallback"
	outcomeError    = "error"
)

// Metrics holds the Prometheus collectors owned by the retry loop. A nil
// *Metrics disables recording.
type Metrics struct {
	// attemptsTotal counts pipeline passes inside the retry loop,
	// partitioned by result: "ok" or "error".
	attemptsTotal *prometheus.CounterVec

	// qualityScore records every quality-check score.
	qualityScore prometheus.Histogram

	// runsTotal counts finished runs by outcome.
	runsTotal *prometheus.CounterVec
}

// NewMetrics registers the translation collectors against reg. Tests pass a
// fresh prometheus.Registry to stay hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "novelt",
			Subsystem: "translate",
			Name:      "attempts_total",
			Help:      "Pipeline passes run by the quality retry loop, partitioned by result.",
		}, []string{"result"}),

		qualityScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "novelt",
			Subsystem: "translate",
			Name:      "quality_score",
			Help:      "Quality-check scores of translation attempts.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		}),

		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "novelt",
			Subsystem: "translate",
			Name:      "runs_total",
			Help:      "Finished translation runs, partitioned by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) attempt(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.attemptsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) score(s float64) {
	if m == nil {
		return
	}
	m.qualityScore.Observe(s)
}

func (m *Metrics) run(outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}
