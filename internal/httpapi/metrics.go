package httpapi

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vercelclone",
			Subsystem: "gateway",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vercelclone",
			Subsystem: "gateway",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.buildsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vercelclone",
			Subsystem: "gateway",
			Name:      "builds_enqueued_total",
			Help:      "Build jobs accepted onto the queue by priority class",
		}, []string{"priority"})

		r.ingestFragments = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vercelclone",
			Subsystem: "gateway",
			Name:      "ingest_fragments_total",
			Help:      "Log fragments received from workers",
		})

		collectors := []prometheus.Collector{r.requestTotal, r.requestLatency, r.buildsEnqueued, r.ingestFragments}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						if collector == r.requestTotal {
							r.requestTotal = v
						} else if collector == r.buildsEnqueued {
							r.buildsEnqueued = v
						}
					case *prometheus.HistogramVec:
						r.requestLatency = v
					case prometheus.Counter:
						r.ingestFragments = v
					}
				}
			}
		}
		r.metricsInitialized = true
	})
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordEnqueue(priority int) {
	if !r.metricsInitialized {
		return
	}
	class := "preview"
	if priority == 1 {
		class = "production"
	}
	r.buildsEnqueued.With(prometheus.Labels{"priority": class}).Inc()
}

func (r *Router) recordIngestFragment() {
	if !r.metricsInitialized {
		return
	}
	r.ingestFragments.Inc()
}
