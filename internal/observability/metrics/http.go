package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "fxledger"

// registry 只包含本进程的账本指标，不混入 Go 运行时默认采集器。
var registry = prometheus.NewRegistry()

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	flowRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flow_runs_total",
		Help:      "Flow runs by outcome.",
	}, []string{"flow", "outcome"})

	flowSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flow_steps_total",
		Help:      "Flow steps reached.",
	}, []string{"flow", "step"})

	flowDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flow_duration_seconds",
		Help:      "Flow run duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"flow"})
)

func init() {
	registry.MustRegister(httpRequests, flowRuns, flowSteps, flowDuration)
}

// ObserveHTTPRequest records one HTTP request.
func ObserveHTTPRequest(handler, method string, status int) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
}

// ObserveFlow records the outcome and duration of one flow run. outcome is
// "ok" or the error code that ended the run.
func ObserveFlow(flow, outcome string, duration time.Duration) {
	flowRuns.WithLabelValues(flow, outcome).Inc()
	flowDuration.WithLabelValues(flow).Observe(duration.Seconds())
}

// ObserveStep records that a flow reached a step.
func ObserveStep(flow, step string) {
	flowSteps.WithLabelValues(flow, step).Inc()
}

// FlowCount returns how many runs of flow ended with outcome.
func FlowCount(flow, outcome string) uint64 {
	var m dto.Metric
	if err := flowRuns.WithLabelValues(flow, outcome).Write(&m); err != nil {
		return 0
	}
	return uint64(m.GetCounter().GetValue())
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
