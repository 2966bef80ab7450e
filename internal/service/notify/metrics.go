package notify

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess   = "success"
	resultFailure   = "failure"
	resultExhausted = "exhausted"
)

var (
	metricsOnce sync.Once
	attempts    *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		counter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagesmith",
			Subsystem: "notify",
			Name:      "attempts_total",
			Help:      "Callback delivery attempts by result",
		}, []string{"result"})
		if err := prometheus.Register(counter); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					counter = existing
				}
			}
		}
		attempts = counter
	})
}

func recordAttempt(result string) {
	initMetrics()
	attempts.WithLabelValues(result).Inc()
}
