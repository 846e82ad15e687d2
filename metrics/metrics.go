// Package metrics 定义推荐核心的 prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecomputeTotal 统计每个计算的重算次数
	RecomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerec_recompute_total",
			Help: "Total number of recomputations by computation",
		},
		[]string{"computation"},
	)

	// RecomputeErrors 统计重算失败次数
	RecomputeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerec_recompute_errors_total",
			Help: "Total number of failed recomputations by computation",
		},
		[]string{"computation"},
	)

	// RecomputeDuration 记录重算耗时
	RecomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamerec_recompute_duration_seconds",
			Help:    "Duration of recomputations in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 1200},
		},
		[]string{"computation"},
	)

	// CacheRequests 统计缓存命中情况，result 取值 hit / miss / stale
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerec_cache_requests_total",
			Help: "Total number of recommendation cache lookups by artifact kind and result",
		},
		[]string{"kind", "result"},
	)
)

// ObserveRecompute 记录一次重算的结果与耗时。
func ObserveRecompute(computation string, start time.Time, err error) {
	RecomputeTotal.WithLabelValues(computation).Inc()
	RecomputeDuration.WithLabelValues(computation).Observe(time.Since(start).Seconds())
	if err != nil {
		RecomputeErrors.WithLabelValues(computation).Inc()
	}
}
