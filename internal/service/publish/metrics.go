package publish

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce  sync.Once
	stepFailures *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagesmith",
			Subsystem: "publish",
			Name:      "step_failures_total",
			Help:      "Provider calls that failed, by publish step",
		}, []string{"step"})
		if err := prometheus.Register(counter); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					counter = existing
				}
			}
		}
		stepFailures = counter
	})
}

func recordStepFailure(step Step) {
	initMetrics()
	stepFailures.WithLabelValues(string(step)).Inc()
}
