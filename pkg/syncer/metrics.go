package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	candidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ayd_sync_candidates_total",
		Help: "Candidates processed by source and outcome.",
	}, []string{"source", "result"})
	inflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ayd_sync_inflight",
		Help: "Candidates currently in each stage.",
	}, []string{"stage"})
	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ayd_sync_duration_seconds",
		Help:    "Duration of sync runs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	})
)
