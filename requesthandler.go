/*
Package requesthandler wires the request handler of the content delivery
platform: the route resolution, the calls to the block and proxy origins,
the composition of the pagelets and layouts, and the ambient logging,
metrics and tracing.

The request handler is started with Run:

	err := requesthandler.Run(requesthandler.Options{
		Address:     ":8080",
		DeliveryURL: "http://delivery.internal",
	})

See the cmd/requesthandler package for the executable, and the config
package for the command line flags and the configuration file.
*/
package requesthandler

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	ot "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"

	"github.com/contensis/request-handler-localdevelopment-sub000/blockcache"
	"github.com/contensis/request-handler-localdevelopment-sub000/compose"
	"github.com/contensis/request-handler-localdevelopment-sub000/delivery"
	"github.com/contensis/request-handler-localdevelopment-sub000/endpoint"
	"github.com/contensis/request-handler-localdevelopment-sub000/gateway"
	"github.com/contensis/request-handler-localdevelopment-sub000/logging"
	"github.com/contensis/request-handler-localdevelopment-sub000/metrics"
	"github.com/contensis/request-handler-localdevelopment-sub000/net"
	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
	"github.com/contensis/request-handler-localdevelopment-sub000/tracing"
)

// Options to start the request handler with.
type Options struct {
	// Network address the request handler listens on.
	Address string

	// Network address of the /metrics and /health endpoints. Empty
	// disables the support listener.
	SupportListener string

	ReadTimeoutServer       time.Duration
	ReadHeaderTimeoutServer time.Duration
	WriteTimeoutServer      time.Duration
	IdleTimeoutServer       time.Duration
	MaxHeaderBytes          int

	// WaitForHealthcheckInterval is the time between the SIGTERM and
	// the shutdown of the listeners, while /health reports unavailable.
	WaitForHealthcheckInterval time.Duration

	// Path of the application log file, stderr when empty.
	ApplicationLog            string
	ApplicationLogPrefix      string
	ApplicationLogLevel       log.Level
	ApplicationLogJSONEnabled bool

	// Path of the access log file, stderr when empty.
	AccessLog            string
	AccessLogDisabled    bool
	AccessLogJSONEnabled bool

	MetricsPrefix          string
	EnableRuntimeMetrics   bool
	HistogramMetricBuckets []float64

	// OpenTracing selects the tracer and its options, e.g.
	// []string{"basic", "sample-modulo=10"}. Defaults to noop.
	OpenTracing []string

	// Base URL of the delivery and publishing services.
	DeliveryURL             string
	DeliveryTimeout         time.Duration
	DeliveryMaxTries        int
	DeliveryBreakerFailures int
	DeliveryBreakerTimeout  time.Duration

	APIHostTemplate   string
	APIAliases        []string
	IDInjectionCutoff time.Time

	EndpointTimeout       time.Duration
	EndpointStreamTimeout time.Duration
	MaxErrorBodyLog       int

	TimeoutBackend               time.Duration
	ResponseHeaderTimeoutBackend time.Duration
	IdleConnTimeoutBackend       time.Duration
	MaxIdleConnsBackend          int
	MaxIdleConnsPerHostBackend   int
	MaxConnsPerHostBackend       int
	DisableHTTPKeepalives        bool

	DisablePagelets       bool
	MaxPageletConcurrency int
	ToolbarScriptURL      string

	BlockVersionCacheSize int
	BlockVersionCacheTTL  time.Duration

	// RedisAddrs enables the shared block version cache.
	RedisAddrs        []string
	RedisPassword     string
	RedisKeyPrefix    string
	RedisTTL          time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration
	RedisDialTimeout  time.Duration
	RedisPoolTimeout  time.Duration
	RedisMinIdleConns int
	RedisMaxIdleConns int
}

// RequestHandler is a configured instance of the request handler.
type RequestHandler struct {
	handler  http.Handler
	server   *http.Server
	support  *http.Server
	delivery *delivery.Client
	redis    *net.RedisRingClient
	quit     chan struct{}
	healthy  atomic.Bool
	wg       *sync.WaitGroup
}

func logOutput(path string) (io.Writer, error) {
	if path == "" {
		return os.Stderr, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	return f, nil
}

// newServerErrorLog forwards the errors of the http server to the
// application log.
func newServerErrorLog() *stdlog.Logger {
	return stdlog.New(log.StandardLogger().WriterLevel(log.WarnLevel), "", 0)
}

func initLog(o Options) error {
	appLog, err := logOutput(o.ApplicationLog)
	if err != nil {
		return err
	}

	accessLog, err := logOutput(o.AccessLog)
	if err != nil {
		return err
	}

	logging.Init(logging.Options{
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogOutput:      appLog,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
		AccessLogOutput:           accessLog,
		AccessLogDisabled:         o.AccessLogDisabled,
		AccessLogJSONEnabled:      o.AccessLogJSONEnabled,
	})

	return nil
}

// New creates a request handler from the options, without starting the
// listeners. The logging is expected to be initialized.
func New(o Options) (*RequestHandler, error) {
	opentracingOpts := o.OpenTracing
	if len(opentracingOpts) == 0 {
		opentracingOpts = []string{"noop"}
	}

	tracer, err := tracing.InitTracer(opentracingOpts)
	if err != nil {
		return nil, err
	}

	ot.SetGlobalTracer(tracer)

	mtr := metrics.Init(metrics.Options{
		Prefix:               o.MetricsPrefix,
		EnableRuntimeMetrics: o.EnableRuntimeMetrics,
		HistogramBuckets:     o.HistogramMetricBuckets,
	})

	rh := &RequestHandler{
		quit: make(chan struct{}),
		wg:   &sync.WaitGroup{},
	}

	rh.delivery, err = delivery.New(delivery.Options{
		BaseURL:         o.DeliveryURL,
		Timeout:         o.DeliveryTimeout,
		MaxTries:        o.DeliveryMaxTries,
		BreakerFailures: o.DeliveryBreakerFailures,
		BreakerTimeout:  o.DeliveryBreakerTimeout,
		Tracer:          tracer,
	})
	if err != nil {
		return nil, err
	}

	cacheOptions := blockcache.Options{
		Size:      o.BlockVersionCacheSize,
		TTL:       o.BlockVersionCacheTTL,
		SharedTTL: o.RedisTTL,
		Metrics:   mtr,
	}

	if len(o.RedisAddrs) > 0 {
		rh.redis = net.NewRedisRingClient(net.RedisOptions{
			Addrs:        o.RedisAddrs,
			Password:     o.RedisPassword,
			ReadTimeout:  o.RedisReadTimeout,
			WriteTimeout: o.RedisWriteTimeout,
			DialTimeout:  o.RedisDialTimeout,
			PoolTimeout:  o.RedisPoolTimeout,
			MinIdleConns: o.RedisMinIdleConns,
			MaxIdleConns: o.RedisMaxIdleConns,
			KeyPrefix:    o.RedisKeyPrefix,
		})

		if !rh.redis.RingAvailable(context.Background()) {
			log.Warn("Redis ring not available, block versions are loaded from the publishing service until it recovers")
		}

		cacheOptions.Shared = rh.redis
	}

	blockVersions := blockcache.New(rh.delivery, cacheOptions)

	resolver := routing.NewResolver(routing.Options{
		Nodes:             rh.delivery,
		Directory:         rh.delivery,
		BlockVersions:     blockVersions,
		APIHostTemplate:   o.APIHostTemplate,
		APIAliases:        o.APIAliases,
		IDInjectionCutoff: o.IDInjectionCutoff,
	})

	transport := net.NewHTTPRoundTripper(net.Options{
		DisableKeepAlives:     o.DisableHTTPKeepalives,
		MaxIdleConns:          o.MaxIdleConnsBackend,
		MaxIdleConnsPerHost:   o.MaxIdleConnsPerHostBackend,
		MaxConnsPerHost:       o.MaxConnsPerHostBackend,
		Timeout:               o.TimeoutBackend,
		ResponseHeaderTimeout: o.ResponseHeaderTimeoutBackend,
		IdleConnTimeout:       o.IdleConnTimeoutBackend,
		Tracer:                tracer,
	}, rh.quit)

	invoker := endpoint.New(endpoint.Options{
		Transport:       transport,
		Timeout:         o.EndpointTimeout,
		StreamTimeout:   o.EndpointStreamTimeout,
		MaxErrorBodyLog: o.MaxErrorBodyLog,
		Tracer:          tracer,
		Metrics:         mtr,
	})

	engine := compose.NewEngine(compose.Options{
		Resolver:         resolver,
		Invoker:          invoker,
		SSO:              rh.delivery,
		ToolbarScriptURL: o.ToolbarScriptURL,
		DisablePagelets:  o.DisablePagelets,
		MaxConcurrency:   o.MaxPageletConcurrency,
		Tracer:           tracer,
		Metrics:          mtr,
	})

	gw := gateway.New(gateway.Options{
		Resolver: resolver,
		Invoker:  invoker,
		Composer: engine,
		Tracer:   tracer,
		Metrics:  mtr,
	})

	rh.handler = logging.NewHandler(gw, func(e *logging.AccessEntry) {
		mtr.MeasureServe(e.Request.Method, e.StatusCode, e.RequestTime)
	})

	rh.server = &http.Server{
		Addr:              o.Address,
		Handler:           rh.handler,
		ReadTimeout:       o.ReadTimeoutServer,
		ReadHeaderTimeout: o.ReadHeaderTimeoutServer,
		WriteTimeout:      o.WriteTimeoutServer,
		IdleTimeout:       o.IdleTimeoutServer,
		MaxHeaderBytes:    o.MaxHeaderBytes,
		ErrorLog:          newServerErrorLog(),
	}

	if o.SupportListener != "" {
		mux := http.NewServeMux()
		mtr.RegisterHandler("/metrics", mux)
		mux.HandleFunc("/health", rh.health)
		rh.support = &http.Server{Addr: o.SupportListener, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	rh.healthy.Store(true)
	return rh, nil
}

// ServeHTTP serves the inbound requests with the access log.
func (rh *RequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rh.handler.ServeHTTP(w, r)
}

func (rh *RequestHandler) health(w http.ResponseWriter, _ *http.Request) {
	if !rh.healthy.Load() {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, "ok\n")
}

// Close releases the connections to the collaborators.
func (rh *RequestHandler) Close() {
	select {
	case <-rh.quit:
		return
	default:
		close(rh.quit)
	}

	rh.delivery.Close()
	if rh.redis != nil {
		rh.redis.Close()
	}
}

func newShutdownFunc(rh *RequestHandler) func(delay time.Duration) {
	once := &sync.Once{}
	rh.wg.Add(1)

	return func(delay time.Duration) {
		once.Do(func() {
			defer rh.wg.Done()
			defer rh.Close()

			rh.healthy.Store(false)
			log.Infof("shutting down the server in %s...", delay)
			time.Sleep(delay)

			if rh.support != nil {
				if err := rh.support.Shutdown(context.Background()); err != nil {
					log.Error("unable to shut down the support listener: ", err)
				}
			}

			if err := rh.server.Shutdown(context.Background()); err != nil {
				log.Error("unable to shut down the server: ", err)
			}

			log.Info("server shut down")
		})
	}
}

// Run starts the request handler set up according to the passed options.
// It is a blocking call, returning when the server is closed after a
// startup error or a gracefully handled SIGTERM signal. Startup errors are
// returned as they are.
func Run(o Options) error {
	if err := initLog(o); err != nil {
		return err
	}

	rh, err := New(o)
	if err != nil {
		return err
	}

	shutdown := newShutdownFunc(rh)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)
	go func() {
		<-sigs
		shutdown(o.WaitForHealthcheckInterval)
	}()

	if rh.support != nil {
		go func() {
			log.Infof("support listener on %s", rh.support.Addr)
			if err := rh.support.ListenAndServe(); err != http.ErrServerClosed {
				log.Errorf("Failed to start the support listener: %v", err)
			}
		}()
	}

	log.Infof("Listen on %s", rh.server.Addr)
	if err = rh.server.ListenAndServe(); err != http.ErrServerClosed {
		go shutdown(0)
	} else {
		err = nil
	}

	rh.wg.Wait()
	return err
}
