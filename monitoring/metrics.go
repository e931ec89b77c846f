package monitoring

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

// Metric 指标
type Metric struct {
	Name   string            `json:"name"`
	Type   MetricType        `json:"type"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
	Help   string            `json:"help,omitempty"`
}

const (
	MetricPredictions     = "predictions_total"
	MetricUnrecognized    = "unrecognized_categories_total"
	MetricErrors          = "errors_total"
	MetricReloads         = "artifact_reloads_total"
	MetricLatencySum      = "prediction_latency_seconds_sum"
	MetricLatencyMax      = "prediction_latency_seconds_max"
	MetricUptime          = "uptime_seconds"
	MetricConnectedClient = "websocket_clients"
)

var metricHelp = map[string]string{
	MetricPredictions:     "Predictions served, by outcome",
	MetricUnrecognized:    "Category inputs that matched no schema column, by domain",
	MetricErrors:          "Failed requests, by kind",
	MetricReloads:         "Artifact reload attempts, by result",
	MetricLatencySum:      "Total time spent in successful predictions",
	MetricLatencyMax:      "Slowest successful prediction",
	MetricUptime:          "Seconds since the collector started",
	MetricConnectedClient: "Connected websocket clients",
}

type seriesKey struct {
	name  string
	label string
	value string
}

// MetricsCollector 指标收集器
type MetricsCollector struct {
	mu        sync.Mutex
	counters  map[seriesKey]float64
	latency   struct{ sum, max time.Duration }
	startTime time.Time
	clients   func() int
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:  make(map[seriesKey]float64),
		startTime: time.Now(),
	}
}

// TrackClients 以fn的返回值作为websocket连接数
func (mc *MetricsCollector) TrackClients(fn func() int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.clients = fn
}

// ObservePrediction 记录一次预测，unrecognized为未识别类别所在的领域
func (mc *MetricsCollector) ObservePrediction(outcome string, unrecognized []string, took time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.counters[seriesKey{MetricPredictions, "outcome", outcome}]++
	for _, domain := range unrecognized {
		mc.counters[seriesKey{MetricUnrecognized, "domain", domain}]++
	}
	mc.latency.sum += took
	if took > mc.latency.max {
		mc.latency.max = took
	}
}

// ObserveError 按类型记录失败请求
func (mc *MetricsCollector) ObserveError(kind string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.counters[seriesKey{MetricErrors, "kind", kind}]++
}

func (mc *MetricsCollector) ObserveReload(err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.counters[seriesKey{MetricReloads, "result", result}]++
}

// Counter 获取单个计数器的当前值
func (mc *MetricsCollector) Counter(name, label, value string) float64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.counters[seriesKey{name, label, value}]
}

// Snapshot 获取所有指标，按名称和标签排序
func (mc *MetricsCollector) Snapshot() []Metric {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	metrics := make([]Metric, 0, len(mc.counters)+4)
	for key, value := range mc.counters {
		metrics = append(metrics, Metric{
			Name:   key.name,
			Type:   MetricTypeCounter,
			Value:  value,
			Labels: map[string]string{key.label: key.value},
			Help:   metricHelp[key.name],
		})
	}
	metrics = append(metrics,
		Metric{Name: MetricLatencySum, Type: MetricTypeCounter, Value: mc.latency.sum.Seconds(), Help: metricHelp[MetricLatencySum]},
		Metric{Name: MetricLatencyMax, Type: MetricTypeGauge, Value: mc.latency.max.Seconds(), Help: metricHelp[MetricLatencyMax]},
		Metric{Name: MetricUptime, Type: MetricTypeGauge, Value: time.Since(mc.startTime).Seconds(), Help: metricHelp[MetricUptime]},
	)
	if mc.clients != nil {
		metrics = append(metrics, Metric{Name: MetricConnectedClient, Type: MetricTypeGauge, Value: float64(mc.clients()), Help: metricHelp[MetricConnectedClient]})
	}

	sort.Slice(metrics, func(i, j int) bool {
		if metrics[i].Name != metrics[j].Name {
			return metrics[i].Name < metrics[j].Name
		}
		return labelString(metrics[i].Labels) < labelString(metrics[j].Labels)
	})
	return metrics
}

func labelString(labels map[string]string) string {
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
