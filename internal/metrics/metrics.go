// Package metrics 汇总审计服务的 Prometheus 指标。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all custom Prometheus metrics for the service.
// 方法均允许 nil 接收者，未启用指标时调用方无需判空。
type Metrics struct {
	registry *prometheus.Registry

	DecisionsAppended *prometheus.CounterVec
	Commits           *prometheus.CounterVec
	Verifications     *prometheus.CounterVec
	Exports           *prometheus.CounterVec
	FeedErrors        *prometheus.CounterVec
	FeedLatency       *prometheus.HistogramVec
	FeedBreaker       *prometheus.GaugeVec
	HTTPLatency       *prometheus.HistogramVec
}

// New 使用独立 registry 注册指标，多个实例（例如测试）互不冲突。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		// result: "ok" | "invalid" | "conflict" | "error"
		DecisionsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentaudit_decisions_appended_total",
			Help: "Decision append attempts by result",
		}, []string{"result"}),

		// status: committed_onchain | local_record | conflict | error
		Commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentaudit_commits_total",
			Help: "Commitment ledger writes by resulting status",
		}, []string{"status"}),

		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentaudit_verifications_total",
			Help: "Verify lookups by result",
		}, []string{"result"}),

		Exports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentaudit_exports_total",
			Help: "Compliance exports by format",
		}, []string{"format"}),

		FeedErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentaudit_feed_errors_total",
			Help: "Yield feed fetch failures by source",
		}, []string{"source"}),

		FeedLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentaudit_feed_fetch_duration_seconds",
			Help:    "Yield feed fetch latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"source"}),

		// 0 closed, 1 open, 2 half-open
		FeedBreaker: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentaudit_feed_breaker_state",
			Help: "Yield feed circuit breaker state by source (0 closed, 1 open, 2 half-open)",
		}, []string{"source"}),

		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentaudit_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 /metrics 的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordAppend(result string) {
	if m == nil {
		return
	}
	m.DecisionsAppended.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordCommit(status string) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordVerify(found bool) {
	if m == nil {
		return
	}
	result := "miss"
	if found {
		result = "hit"
	}
	m.Verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordExport(format string) {
	if m == nil {
		return
	}
	m.Exports.WithLabelValues(format).Inc()
}

// RecordFeedFetch 记录一次 feed 拉取的耗时，err 非空时同时计入错误数。
func (m *Metrics) RecordFeedFetch(source string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.FeedLatency.WithLabelValues(source).Observe(d.Seconds())
	if err != nil {
		m.FeedErrors.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) RecordBreakerState(source string, state int) {
	if m == nil {
		return
	}
	m.FeedBreaker.WithLabelValues(source).Set(float64(state))
}

func (m *Metrics) RecordHTTP(method, route, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPLatency.WithLabelValues(method, route, code).Observe(d.Seconds())
}
