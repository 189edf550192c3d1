package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geolayer_requests_total",
		Help: "Total API requests by endpoint",
	}, []string{"endpoint"})
	RequestDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geolayer_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000},
	})
	JoinMatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geolayer_join_matched_total",
		Help: "Records matched to a boundary, by normalization strategy",
	}, []string{"strategy"})
	JoinUnmatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geolayer_join_unmatched_total",
		Help: "Records joined without geometry (fallback rows)",
	})
	BuildsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geolayer_builds_started_total",
		Help: "Layer builds started (one per distinct in-flight signature)",
	})
	BuildsCoalescedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geolayer_builds_coalesced_total",
		Help: "Acquire calls attached to an already in-flight build",
	})
	BuildsSupersededTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geolayer_builds_superseded_total",
		Help: "In-flight builds superseded by a newer signature",
	})
	BuildsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geolayer_builds_failed_total",
		Help: "Layer builds that failed (synthesis or host attach)",
	})
	BuildsTimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geolayer_builds_timeout_total",
		Help: "Layer builds expired by TTL before resolving",
	})
	BuildDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geolayer_build_duration_ms",
		Help:    "Layer build duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
	})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geolayer_cache_hits_total",
		Help: "Acquire calls answered by the already attached layer",
	})
	SynthFilteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geolayer_synth_filtered_total",
		Help: "Records dropped from rendering (no geometry or no score)",
	})
	SynthTruncatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geolayer_synth_truncated_total",
		Help: "Records cut by the tiered volume cap",
	})
	SnapshotSavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geolayer_snapshot_saves_total",
		Help: "Layer snapshot writes to redis by status",
	}, []string{"status"})
	SnapshotRestoresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geolayer_snapshot_restores_total",
		Help: "Layer snapshots restored on session attach",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(JoinMatchedTotal)
	prometheus.MustRegister(JoinUnmatchedTotal)
	prometheus.MustRegister(BuildsStartedTotal)
	prometheus.MustRegister(BuildsCoalescedTotal)
	prometheus.MustRegister(BuildsSupersededTotal)
	prometheus.MustRegister(BuildsFailedTotal)
	prometheus.MustRegister(BuildsTimeoutTotal)
	prometheus.MustRegister(BuildDurationMs)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(SynthFilteredTotal)
	prometheus.MustRegister(SynthTruncatedTotal)
	prometheus.MustRegister(SnapshotSavesTotal)
	prometheus.MustRegister(SnapshotRestoresTotal)
}

// 文档注释：返回 Prometheus 指标处理器
// 背景：统一暴露注册指标到 /metrics 路径，供抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
