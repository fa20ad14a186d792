package generation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_generation_requests_total",
			Help: "Total number of requests to generation backends.",
		},
		[]string{"backend", "operation", "status"},
	)
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyboard_generation_request_duration_seconds",
			Help:    "Histogram of generation backend request durations.",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"backend", "operation"},
	)
	videoPollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storyboard_generation_video_polls_total",
			Help: "Total number of video job status polls.",
		},
	)
)

// observe записывает счетчик и длительность одного вызова бэкенда.
func observe(backend, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	requestsTotal.With(prometheus.Labels{"backend": backend, "operation": operation, "status": status}).Inc()
	requestDuration.With(prometheus.Labels{"backend": backend, "operation": operation}).Observe(time.Since(start).Seconds())
}
