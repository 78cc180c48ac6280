package worker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asergenalkan/vercelclone/internal/domain"
)

var (
	metricsOnce   sync.Once
	buildResults  *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		buildResults = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vercelclone",
			Subsystem: "worker",
			Name:      "builds_total",
			Help:      "Build outcomes by result and the stage they ended in",
		}, []string{"result", "stage"})

		buildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vercelclone",
			Subsystem: "worker",
			Name:      "build_duration_seconds",
			Help:      "Wall-clock duration of build jobs by result",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"})

		for _, collector := range []prometheus.Collector{buildResults, buildDuration} {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						buildResults = v
					case *prometheus.HistogramVec:
						buildDuration = v
					}
				}
			}
		}
	})
}

func recordBuildResult(result string, stage domain.Stage, elapsed time.Duration) {
	initMetrics()
	buildResults.With(prometheus.Labels{"result": result, "stage": string(stage)}).Inc()
	buildDuration.With(prometheus.Labels{"result": result}).Observe(elapsed.Seconds())
}
