// Package metricsapi exposes the daemon's Prometheus metrics and a JSON
// process-statistics endpoint, matching spec.md §6's "metrics endpoint:
// GET /metrics ... and GET /statistics" with "total query count and
// instantaneous QPS" counters/gauges.
package metricsapi

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metrics holds every Prometheus collector the daemon exposes and a
// lock-free running query counter used to derive instantaneous QPS.
type Metrics struct {
	QueriesTotal   prometheus.Counter
	QueriesUDP     prometheus.Counter
	QueriesTCP     prometheus.Counter
	ResponsesNX    prometheus.Counter
	ResponsesError prometheus.Counter
	QPS            prometheus.Gauge

	registry  *prometheus.Registry
	startTime time.Time
	lastCount int64
	queryCount int64
}

// New registers a fresh set of collectors on their own registry, so the
// daemon never collides with the default global one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		QueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recursord_queries_total",
			Help: "Total number of client queries received.",
		}),
		QueriesUDP: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recursord_queries_udp_total",
			Help: "Total number of client queries received over UDP.",
		}),
		QueriesTCP: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recursord_queries_tcp_total",
			Help: "Total number of client queries received over TCP.",
		}),
		ResponsesNX: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recursord_responses_nxdomain_total",
			Help: "Total number of NXDOMAIN responses sent.",
		}),
		ResponsesError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recursord_responses_servfail_total",
			Help: "Total number of SERVFAIL responses sent.",
		}),
		QPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recursord_queries_per_second",
			Help: "Instantaneous queries per second, sampled once a second.",
		}),
		registry:  reg,
		startTime: time.Now(),
	}
	reg.MustRegister(m.QueriesTotal, m.QueriesUDP, m.QueriesTCP, m.ResponsesNX, m.ResponsesError, m.QPS)
	return m
}

// CountQuery increments the total query counter and the per-second
// counter QPS samples from.
func (m *Metrics) CountQuery() {
	m.QueriesTotal.Inc()
	atomic.AddInt64(&m.queryCount, 1)
}

// RunQPSSampler recomputes QPS once a second until ctx-equivalent stop is
// requested by closing stop. Mirrors the teacher's test helper pattern of a
// background ticking goroutine scoped to the server's lifetime.
func (m *Metrics) RunQPSSampler(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			current := atomic.LoadInt64(&m.queryCount)
			m.QPS.Set(float64(current - m.lastCount))
			m.lastCount = current
		}
	}
}

// Handler returns the Prometheus exposition HTTP handler for this
// Metrics' registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statisticsResponse is the JSON body GET /statistics returns.
type statisticsResponse struct {
	UptimeSeconds int64       `json:"uptime_seconds"`
	QueriesTotal  int64       `json:"queries_total"`
	CPU           cpuStats    `json:"cpu"`
	Memory        memoryStats `json:"memory"`
}

type cpuStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
}

type memoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// Statistics handles GET /statistics: process and system resource usage
// via github.com/shirou/gopsutil/v3, alongside the daemon's own query count.
func (m *Metrics) Statistics(c *gin.Context) {
	resp := statisticsResponse{
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		QueriesTotal:  atomic.LoadInt64(&m.queryCount),
		CPU:           cpuStats{NumCPU: runtime.NumCPU()},
	}

	if percents, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(percents) > 0 {
		resp.CPU.UsedPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.Memory = memoryStats{
			TotalMB:     float64(vm.Total) / 1024 / 1024,
			UsedMB:      float64(vm.Used) / 1024 / 1024,
			UsedPercent: vm.UsedPercent,
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Register mounts /metrics and /statistics onto r.
func Register(r *gin.Engine, m *Metrics) {
	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.GET("/statistics", m.Statistics)
}
