/*
Package metrics implements the collection of the request handler
performance metrics.

The collected metrics include the duration of resolving routes by route
kind, the duration of the calls to the origins by status class, the
number of composed and failed fragments, the rejected recursive calls and
the hits and misses of the block version cache. They are exposed in the
Prometheus text format on the support listener.
*/
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the interface of the collected metrics.
type Metrics interface {
	MeasureResolve(kind string, start time.Time)
	MeasureEndpoint(kind string, statusCode int, start time.Time)
	MeasureServe(method string, statusCode int, start time.Time)
	IncFragments(kind string, failed bool)
	IncRecursionRejected()
	IncCache(tier string, hit bool)
	RegisterHandler(path string, mux *http.ServeMux)
}

// Options for initializing metrics collection.
type Options struct {
	// Prefix is used as the namespace of the metrics. Defaults to
	// "requesthandler".
	Prefix string

	// If set, Go runtime and process metrics are collected in addition
	// to the request handler metrics.
	EnableRuntimeMetrics bool

	// HistogramBuckets defines buckets for the duration histograms.
	// Defaults to the prometheus default buckets.
	HistogramBuckets []float64

	// PrometheusRegistry is the registry to register the metrics on.
	// A new registry is created when not set.
	PrometheusRegistry *prometheus.Registry
}

// Default is the metrics collector used when none is configured.
var Default Metrics = Void

// Init creates the prometheus collector and sets it as Default.
func Init(o Options) Metrics {
	Default = NewPrometheus(o)
	return Default
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// measuredMethod limits the method label to the known ones.
func measuredMethod(m string) string {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return m
	default:
		return "_unknownmethod_"
	}
}
