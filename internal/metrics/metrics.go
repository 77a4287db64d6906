package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 网关业务指标
type AppMetrics struct {
	WSConnections   prometheus.Gauge         // 当前打开的 WebSocket 连接数
	WSAccepted      prometheus.Counter       // 累计接受的连接
	CommandTotal    *prometheus.CounterVec   // labels: type, result=success|invalid_format|not_found|frigate_error|unknown_command
	BackendDuration *prometheus.HistogramVec // labels: op, result=ok|error
	Instances       prometheus.Gauge         // 注册表中的实例数
	RegistrySyncs   *prometheus.CounterVec   // labels: result=ok|error
	BreakerChanges  *prometheus.CounterVec   // labels: instance, state
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Current number of open websocket connections.",
		}),
		WSAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_accept_total",
			Help: "Total accepted websocket connections.",
		}),
		CommandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_command_total",
			Help: "Websocket commands handled by type and outcome.",
		}, []string{"type", "result"}),
		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frigate_request_duration_seconds",
			Help:    "Latency of Frigate API calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "result"}),
		Instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "frigate_instances",
			Help: "Number of registered Frigate instances.",
		}),
		RegistrySyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_sync_total",
			Help: "Instance directory sync attempts.",
		}, []string{"result"}),
		BreakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frigate_breaker_transitions_total",
			Help: "Circuit breaker state transitions per Frigate instance.",
		}, []string{"instance", "state"}),
	}
	reg.MustRegister(m.WSConnections, m.WSAccepted, m.CommandTotal, m.BackendDuration, m.Instances, m.RegistrySyncs, m.BreakerChanges)
	return m
}
