/**
 * 运行指标
 * @author: sun977
 * @date: 2026.10.13
 * @description: 任务生命周期与外部工具调用的 Prometheus 指标，使用独立 Registry
 */
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
// 所有方法对 nil 接收者安全，未启用指标时直接传 nil
type Metrics struct {
	registry *prometheus.Registry

	tasksTotal      *prometheus.CounterVec
	tasksRunning    prometheus.Gauge
	taskDuration    *prometheus.HistogramVec
	findingsTotal   *prometheus.CounterVec
	toolCallsTotal  *prometheus.CounterVec
	stopRequests    *prometheus.CounterVec
	postScanFailure *prometheus.CounterVec
}

// NewMetrics 创建并注册全部指标
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neoaudit_tasks_total",
		Help: "Scan tasks reaching a terminal status",
	}, []string{"scan_type", "status", "finish_reason"})

	m.tasksRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neoaudit_tasks_running",
		Help: "Scan tasks currently supervised",
	})

	m.taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "neoaudit_task_duration_seconds",
		Help:    "Wall clock duration of scan tasks",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"scan_type"})

	m.findingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neoaudit_findings_total",
		Help: "Normalized findings produced by finished tasks",
	}, []string{"scan_type", "severity"})

	m.toolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neoaudit_tool_invocations_total",
		Help: "External tool invocations by outcome",
	}, []string{"tool", "outcome"})

	m.stopRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neoaudit_stop_requests_total",
		Help: "Stop requests by delivery result",
	}, []string{"delivered"})

	m.postScanFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "neoaudit_post_scan_failures_total",
		Help: "Post-scan stage failures",
	}, []string{"stage"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tasksTotal,
		m.tasksRunning,
		m.taskDuration,
		m.findingsTotal,
		m.toolCallsTotal,
		m.stopRequests,
		m.postScanFailure,
	)
	return m
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry 暴露给测试
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// TaskStarted 任务进入 running
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksRunning.Inc()
}

// TaskFinished 任务进入终态
func (m *Metrics) TaskFinished(scanType, status, finishReason string, seconds float64) {
	if m == nil {
		return
	}
	m.tasksRunning.Dec()
	m.tasksTotal.WithLabelValues(scanType, status, finishReason).Inc()
	m.taskDuration.WithLabelValues(scanType).Observe(seconds)
}

// FindingsRecorded 记录各等级漏洞数
func (m *Metrics) FindingsRecorded(scanType string, bySeverity map[string]int) {
	if m == nil {
		return
	}
	for sev, n := range bySeverity {
		if n > 0 {
			m.findingsTotal.WithLabelValues(scanType, sev).Add(float64(n))
		}
	}
}

// ToolInvoked 外部工具调用
func (m *Metrics) ToolInvoked(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// StopRequested 停止请求
func (m *Metrics) StopRequested(delivered bool) {
	if m == nil {
		return
	}
	label := "false"
	if delivered {
		label = "true"
	}
	m.stopRequests.WithLabelValues(label).Inc()
}

// PostScanFailed 后处理阶段失败
func (m *Metrics) PostScanFailed(stage string) {
	if m == nil {
		return
	}
	m.postScanFailure.WithLabelValues(stage).Inc()
}
