package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	promNamespace         = "requesthandler"
	promRouteSubsystem    = "route"
	promEndpointSubsystem = "endpoint"
	promServeSubsystem    = "serve"
	promComposeSubsystem  = "compose"
	promCacheSubsystem    = "blockversion_cache"
)

// Prometheus implements the prometheus metrics backend.
type Prometheus struct {
	resolveM   *prometheus.HistogramVec
	endpointM  *prometheus.HistogramVec
	serveM     *prometheus.HistogramVec
	fragmentsM *prometheus.CounterVec
	recursionM prometheus.Counter
	cacheM     *prometheus.CounterVec

	opts     Options
	registry *prometheus.Registry
	handler  http.Handler
}

// NewPrometheus returns a new Prometheus metric backend.
func NewPrometheus(opts Options) *Prometheus {
	namespace := promNamespace
	if opts.Prefix != "" {
		namespace = strings.TrimSuffix(opts.Prefix, ".")
	}

	buckets := opts.HistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	resolve := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promRouteSubsystem,
		Name:      "resolve_duration_seconds",
		Help:      "Duration in seconds of resolving a route.",
		Buckets:   buckets,
	}, []string{"kind"})

	endpoint := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promEndpointSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of a call to an origin.",
		Buckets:   buckets,
	}, []string{"kind", "code"})

	serve := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: promServeSubsystem,
		Name:      "duration_seconds",
		Help:      "Duration in seconds of serving an inbound request.",
		Buckets:   buckets,
	}, []string{"method", "code"})

	fragments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promComposeSubsystem,
		Name:      "fragments_total",
		Help:      "The total of composed fragments.",
	}, []string{"kind", "result"})

	recursion := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promComposeSubsystem,
		Name:      "recursion_rejected_total",
		Help:      "The total of calls rejected for exceeding the maximum composition depth.",
	})

	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: promCacheSubsystem,
		Name:      "lookups_total",
		Help:      "The total of block version cache lookups.",
	}, []string{"tier", "result"})

	p := &Prometheus{
		resolveM:   resolve,
		endpointM:  endpoint,
		serveM:     serve,
		fragmentsM: fragments,
		recursionM: recursion,
		cacheM:     cache,
		opts:       opts,
		registry:   opts.PrometheusRegistry,
	}

	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
	}

	p.registerMetrics()
	return p
}

// sinceS returns the seconds passed since the start time until now.
func (p *Prometheus) sinceS(start time.Time) float64 {
	return time.Since(start).Seconds()
}

func (p *Prometheus) registerMetrics() {
	p.registry.MustRegister(p.resolveM)
	p.registry.MustRegister(p.endpointM)
	p.registry.MustRegister(p.serveM)
	p.registry.MustRegister(p.fragmentsM)
	p.registry.MustRegister(p.recursionM)
	p.registry.MustRegister(p.cacheM)

	if p.opts.EnableRuntimeMetrics {
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		p.registry.MustRegister(collectors.NewGoCollector())
	}
}

func (p *Prometheus) CreateHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) getHandler() http.Handler {
	if p.handler != nil {
		return p.handler
	}

	p.handler = p.CreateHandler()
	return p.handler
}

// RegisterHandler satisfies Metrics interface.
func (p *Prometheus) RegisterHandler(path string, mux *http.ServeMux) {
	mux.Handle(path, p.getHandler())
}

// MeasureResolve satisfies Metrics interface.
func (p *Prometheus) MeasureResolve(kind string, start time.Time) {
	p.resolveM.WithLabelValues(kind).Observe(p.sinceS(start))
}

// MeasureEndpoint satisfies Metrics interface.
func (p *Prometheus) MeasureEndpoint(kind string, statusCode int, start time.Time) {
	p.endpointM.WithLabelValues(kind, statusClass(statusCode)).Observe(p.sinceS(start))
}

// MeasureServe satisfies Metrics interface.
func (p *Prometheus) MeasureServe(method string, statusCode int, start time.Time) {
	p.serveM.WithLabelValues(measuredMethod(method), strconv.Itoa(statusCode)).Observe(p.sinceS(start))
}

// IncFragments satisfies Metrics interface.
func (p *Prometheus) IncFragments(kind string, failed bool) {
	result := "spliced"
	if failed {
		result = "failed"
	}

	p.fragmentsM.WithLabelValues(kind, result).Inc()
}

// IncRecursionRejected satisfies Metrics interface.
func (p *Prometheus) IncRecursionRejected() {
	p.recursionM.Inc()
}

// IncCache satisfies Metrics interface.
func (p *Prometheus) IncCache(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	p.cacheM.WithLabelValues(tier, result).Inc()
}
