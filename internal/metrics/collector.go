// Package metrics exposes cache and upstream counters through a private
// Prometheus registry so several caches can coexist in one process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mwcache"

// Collector 汇总加载结果、新鲜度结论与上游请求。所有方法对 nil 接收者安全。
type Collector struct {
	registry        *prometheus.Registry
	loads           *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	clears          prometheus.Counter
}

// New 创建并注册全部指标。
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Resource loads by result status.",
		}, []string{"status"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "freshness_decisions_total",
			Help:      "Staleness decisions by outcome and reason.",
		}, []string{"decision", "reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream GET/HEAD requests by outcome; GET counts once the body transfer ends.",
		}, []string{"method", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_seconds",
			Help:      "Upstream request duration; headers for HEAD, full body transfer for GET.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clears_total",
			Help:      "Explicit cache clears.",
		}),
	}
	c.registry.MustRegister(c.loads, c.decisions, c.requests, c.requestDuration, c.clears)
	return c
}

// Registry 暴露底层 registry，便于测试或追加进程级指标。
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler 返回 Prometheus 文本格式的 HTTP handler。
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveRequest(method, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(method, outcome).Inc()
	c.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveLoad(status string) {
	if c == nil {
		return
	}
	c.loads.WithLabelValues(status).Inc()
}

func (c *Collector) ObserveDecision(decision, reason string) {
	if c == nil {
		return
	}
	c.decisions.WithLabelValues(decision, reason).Inc()
}

func (c *Collector) ObserveClear() {
	if c == nil {
		return
	}
	c.clears.Inc()
}
