package deploy

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagesmith",
			Subsystem: "deploy",
			Name:      "runs_total",
			Help:      "Finished deployment runs by outcome",
		}, []string{"outcome", "round_kind"})

		runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pagesmith",
			Subsystem: "deploy",
			Name:      "duration_seconds",
			Help:      "Wall time of deployment runs",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"round_kind"})

		collectors := []prometheus.Collector{runsTotal, runDuration}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						runsTotal = v
					case *prometheus.HistogramVec:
						runDuration = v
					}
				}
			}
		}
	})
}

func recordRun(outcome, kind string, d time.Duration) {
	initMetrics()
	runsTotal.WithLabelValues(outcome, kind).Inc()
	runDuration.WithLabelValues(kind).Observe(d.Seconds())
}
