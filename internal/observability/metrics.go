package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odata_gateway_request_seconds",
		Help:    "Latency of HTTP requests sent to OData services.",
		Buckets: prometheus.DefBuckets,
	}, []string{"system", "method", "status"})

	RequestRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odata_gateway_request_retries_total",
		Help: "Total number of retried OData requests.",
	}, []string{"system"})

	CSRFRefetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odata_gateway_csrf_refetch_total",
		Help: "Total number of CSRF tokens refetched after a 403.",
	}, []string{"system"})

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odata_gateway_tool_calls_total",
		Help: "Total number of tool invocations by outcome.",
	}, []string{"system", "operation", "outcome"})

	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odata_gateway_tool_call_seconds",
		Help:    "Time spent handling a tool invocation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"system", "operation"})

	MetadataParseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odata_gateway_metadata_parse_seconds",
		Help:    "Time spent fetching and parsing a $metadata document.",
		Buckets: prometheus.DefBuckets,
	}, []string{"system"})

	RegisteredTools = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odata_gateway_registered_tools",
		Help: "Number of tools currently registered per system.",
	}, []string{"system"})

	SystemLoadErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odata_gateway_system_load_errors_total",
		Help: "Total number of failed system loads or refreshes.",
	}, []string{"system"})

	ConfigReloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "odata_gateway_config_reloads_total",
		Help: "Total number of systems file reloads triggered by the watcher.",
	})
)
