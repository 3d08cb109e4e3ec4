package index

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricBuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ayd_index_build_duration_seconds",
		Help:    "Time taken to generate a Packages index",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
	metricBuildStalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ayd_index_build_stalls_total",
		Help: "Number of index builds abandoned because a consumer fell behind",
	})
)

func observeBuild(err error, start time.Time) {
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, ErrStalled) {
			metricBuildStalls.Inc()
		}
	}
	metricBuildDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}
