// Package config reads the command line flags and the optional yaml
// configuration file of the request handler.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	requesthandler "github.com/contensis/request-handler-localdevelopment-sub000"
	"github.com/contensis/request-handler-localdevelopment-sub000/blockcache"
	"github.com/contensis/request-handler-localdevelopment-sub000/compose"
	"github.com/contensis/request-handler-localdevelopment-sub000/delivery"
	"github.com/contensis/request-handler-localdevelopment-sub000/endpoint"
	"github.com/contensis/request-handler-localdevelopment-sub000/net"
	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
)

const redisPasswordEnv = "REDIS_PASSWORD"

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// server:
	Address                    string        `yaml:"address"`
	SupportListener            string        `yaml:"support-listener"`
	ReadTimeoutServer          time.Duration `yaml:"read-timeout-server"`
	ReadHeaderTimeoutServer    time.Duration `yaml:"read-header-timeout-server"`
	WriteTimeoutServer         time.Duration `yaml:"write-timeout-server"`
	IdleTimeoutServer          time.Duration `yaml:"idle-timeout-server"`
	MaxHeaderBytes             int           `yaml:"max-header-bytes"`
	WaitForHealthcheckInterval time.Duration `yaml:"wait-for-healthcheck-interval"`

	// logging:
	ApplicationLog            string    `yaml:"application-log"`
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`
	ApplicationLogPrefix      string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled bool      `yaml:"application-log-json-enabled"`
	AccessLog                 string    `yaml:"access-log"`
	AccessLogDisabled         bool      `yaml:"access-log-disabled"`
	AccessLogJSONEnabled      bool      `yaml:"access-log-json-enabled"`

	// metrics and tracing:
	MetricsPrefix                string    `yaml:"metrics-prefix"`
	EnableRuntimeMetrics         bool      `yaml:"runtime-metrics"`
	HistogramMetricBucketsString string    `yaml:"histogram-metric-buckets"`
	HistogramMetricBuckets       []float64 `yaml:"-"`
	OpenTracing                  string    `yaml:"opentracing"`

	// delivery api:
	DeliveryURL             string        `yaml:"delivery-url"`
	DeliveryTimeout         time.Duration `yaml:"delivery-timeout"`
	DeliveryMaxTries        int           `yaml:"delivery-max-tries"`
	DeliveryBreakerFailures int           `yaml:"delivery-breaker-failures"`
	DeliveryBreakerTimeout  time.Duration `yaml:"delivery-breaker-timeout"`

	// routing:
	APIHostTemplate         string     `yaml:"api-host-template"`
	APIAliases              apiAliases `yaml:"api-alias"`
	IDInjectionCutoffString string     `yaml:"id-injection-cutoff"`
	IDInjectionCutoff       time.Time  `yaml:"-"`

	// endpoints:
	EndpointTimeout              time.Duration `yaml:"endpoint-timeout"`
	EndpointStreamTimeout        time.Duration `yaml:"endpoint-stream-timeout"`
	MaxErrorBodyLog              int           `yaml:"max-error-body-log"`
	TimeoutBackend               time.Duration `yaml:"timeout-backend"`
	ResponseHeaderTimeoutBackend time.Duration `yaml:"response-header-timeout-backend"`
	IdleConnTimeoutBackend       time.Duration `yaml:"idle-timeout-backend"`
	MaxIdleConnsBackend          int           `yaml:"max-idle-connection-backend"`
	MaxIdleConnsPerHostBackend   int           `yaml:"max-idle-connection-per-host-backend"`
	MaxConnsPerHostBackend       int           `yaml:"max-connection-per-host-backend"`
	DisableHTTPKeepalives        bool          `yaml:"disable-http-keepalives"`

	// composition:
	DisablePagelets       bool   `yaml:"disable-pagelets"`
	MaxPageletConcurrency int    `yaml:"max-pagelet-concurrency"`
	ToolbarScriptURL      string `yaml:"toolbar-script-url"`

	// block version cache:
	BlockVersionCacheSize int           `yaml:"block-version-cache-size"`
	BlockVersionCacheTTL  time.Duration `yaml:"block-version-cache-ttl"`
	RedisAddrs            redisAddrs    `yaml:"redis-addrs"`
	RedisPassword         string        `yaml:"redis-password"`
	RedisKeyPrefix        string        `yaml:"redis-key-prefix"`
	RedisTTL              time.Duration `yaml:"redis-ttl"`
	RedisReadTimeout      time.Duration `yaml:"redis-read-timeout"`
	RedisWriteTimeout     time.Duration `yaml:"redis-write-timeout"`
	RedisDialTimeout      time.Duration `yaml:"redis-dial-timeout"`
	RedisPoolTimeout      time.Duration `yaml:"redis-pool-timeout"`
	RedisMinIdleConns     int           `yaml:"redis-min-idle-conns"`
	RedisMaxIdleConns     int           `yaml:"redis-max-idle-conns"`
}

func NewConfig() *Config {
	cfg := new(Config)

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// server:
	flag.StringVar(&cfg.Address, "address", ":8080", "network address that the request handler should listen on")
	flag.StringVar(&cfg.SupportListener, "support-listener", ":9911", "network address used for exposing the /metrics and /health endpoints. An empty value disables the support endpoint.")
	flag.DurationVar(&cfg.ReadTimeoutServer, "read-timeout-server", 5*time.Minute, "set ReadTimeout for http server connections")
	flag.DurationVar(&cfg.ReadHeaderTimeoutServer, "read-header-timeout-server", 60*time.Second, "set ReadHeaderTimeout for http server connections")
	flag.DurationVar(&cfg.WriteTimeoutServer, "write-timeout-server", 60*time.Second, "set WriteTimeout for http server connections")
	flag.DurationVar(&cfg.IdleTimeoutServer, "idle-timeout-server", 180*time.Second, "set IdleTimeout for http server connections")
	flag.IntVar(&cfg.MaxHeaderBytes, "max-header-bytes", 1<<20, "set MaxHeaderBytes for http server connections")
	flag.DurationVar(&cfg.WaitForHealthcheckInterval, "wait-for-healthcheck-interval", 0, "period waiting to become unhealthy in the load balancer pool in front of the request handler before shutting down the listeners")

	// logging:
	flag.StringVar(&cfg.ApplicationLog, "application-log", "", "output file for the application log. When not set, /dev/stderr is used")
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", "[APP]", "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.StringVar(&cfg.AccessLog, "access-log", "", "output file for the access log, When not set, /dev/stderr is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set, no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set, log in JSON format is used")

	// metrics and tracing:
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", "requesthandler", "namespace of the prometheus metrics")
	flag.BoolVar(&cfg.EnableRuntimeMetrics, "runtime-metrics", true, "enables Go runtime and process metrics")
	flag.StringVar(&cfg.HistogramMetricBucketsString, "histogram-metric-buckets", "", "use custom buckets for prometheus histograms, must be a comma-separated list of numbers")
	flag.StringVar(&cfg.OpenTracing, "opentracing", "noop", "list of arguments for opentracing (space separated), first argument is the tracer implementation")

	// delivery api:
	flag.StringVar(&cfg.DeliveryURL, "delivery-url", "", "base URL of the delivery and publishing services, required")
	flag.DurationVar(&cfg.DeliveryTimeout, "delivery-timeout", delivery.DefaultTimeout, "timeout of a single call to the delivery services")
	flag.IntVar(&cfg.DeliveryMaxTries, "delivery-max-tries", delivery.DefaultMaxTries, "maximum number of attempts of a call to the delivery services")
	flag.IntVar(&cfg.DeliveryBreakerFailures, "delivery-breaker-failures", delivery.DefaultBreakerFailures, "consecutive failures that open the circuit breaker of the delivery services")
	flag.DurationVar(&cfg.DeliveryBreakerTimeout, "delivery-breaker-timeout", delivery.DefaultBreakerTimeout, "time the circuit breaker of the delivery services stays open")

	// routing:
	flag.StringVar(&cfg.APIHostTemplate, "api-host-template", routing.DefaultAPIHostTemplate, "host of the delivery api of a project, %s is replaced with the alias")
	flag.Var(&cfg.APIAliases, "api-alias", "alias whose api host is served by this request handler, can be repeated")
	flag.StringVar(&cfg.IDInjectionCutoffString, "id-injection-cutoff", "", "RFC3339 time, nodes published before it do not get the node and entry ids injected into the block requests")

	// endpoints:
	flag.DurationVar(&cfg.EndpointTimeout, "endpoint-timeout", endpoint.DefaultTimeout, "timeout of a buffered block or proxy response")
	flag.DurationVar(&cfg.EndpointStreamTimeout, "endpoint-stream-timeout", endpoint.DefaultStreamTimeout, "timeout of a streamed block or proxy response")
	flag.IntVar(&cfg.MaxErrorBodyLog, "max-error-body-log", endpoint.DefaultMaxErrorBodyLog, "maximum bytes of an error response body written to the log")
	flag.DurationVar(&cfg.TimeoutBackend, "timeout-backend", net.DefaultTimeout, "sets the TCP client connection timeout for backend connections")
	flag.DurationVar(&cfg.ResponseHeaderTimeoutBackend, "response-header-timeout-backend", 60*time.Second, "sets the HTTP response header timeout for backend connections")
	flag.DurationVar(&cfg.IdleConnTimeoutBackend, "idle-timeout-backend", 60*time.Second, "sets the idle timeout for backend connections")
	flag.IntVar(&cfg.MaxIdleConnsBackend, "max-idle-connection-backend", 0, "sets the maximum idle connections for all backend connections")
	flag.IntVar(&cfg.MaxIdleConnsPerHostBackend, "max-idle-connection-per-host-backend", 64, "sets the maximum idle connections per backend host")
	flag.IntVar(&cfg.MaxConnsPerHostBackend, "max-connection-per-host-backend", 0, "sets the maximum connections per backend host, 0 is unlimited")
	flag.BoolVar(&cfg.DisableHTTPKeepalives, "disable-http-keepalives", false, "forces backend to always create a new connection")

	// composition:
	flag.BoolVar(&cfg.DisablePagelets, "disable-pagelets", false, "serves the block responses without resolving their pagelets")
	flag.IntVar(&cfg.MaxPageletConcurrency, "max-pagelet-concurrency", 0, "maximum pagelets of a document resolved at the same time, 0 is unlimited")
	flag.StringVar(&cfg.ToolbarScriptURL, "toolbar-script-url", compose.DefaultToolbarScriptURL, "script of the preview toolbar")

	// block version cache:
	flag.IntVar(&cfg.BlockVersionCacheSize, "block-version-cache-size", blockcache.DefaultSize, "maximum block versions held in memory")
	flag.DurationVar(&cfg.BlockVersionCacheTTL, "block-version-cache-ttl", blockcache.DefaultTTL, "time a block version is held in memory")
	flag.Var(&cfg.RedisAddrs, "redis-addrs", "comma separated list of redis instances sharing the block versions")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "password of the redis instances, can also be set with the REDIS_PASSWORD environment variable")
	flag.StringVar(&cfg.RedisKeyPrefix, "redis-key-prefix", "requesthandler:", "prefix of the redis keys")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", blockcache.DefaultSharedTTL, "time a block version is held in redis")
	flag.DurationVar(&cfg.RedisReadTimeout, "redis-read-timeout", net.DefaultReadTimeout, "socket read timeout")
	flag.DurationVar(&cfg.RedisWriteTimeout, "redis-write-timeout", net.DefaultWriteTimeout, "socket write timeout")
	flag.DurationVar(&cfg.RedisDialTimeout, "redis-dial-timeout", net.DefaultDialTimeout, "dial timeout")
	flag.DurationVar(&cfg.RedisPoolTimeout, "redis-pool-timeout", net.DefaultPoolTimeout, "pool timeout")
	flag.IntVar(&cfg.RedisMinIdleConns, "redis-min-idle-conns", net.DefaultMinConns, "minimum number of idle connections to redis")
	flag.IntVar(&cfg.RedisMaxIdleConns, "redis-max-idle-conns", net.DefaultMaxConns, "maximum number of idle connections to redis")

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return err
	}

	_, err = c.parseHistogramBuckets(c.HistogramMetricBucketsString, prometheus.DefBuckets)
	if err != nil {
		return err
	}

	_, err = parseCutoff(c.IDInjectionCutoffString)
	if err != nil {
		return err
	}

	if c.DeliveryURL == "" {
		return errors.New("missing delivery-url")
	}

	if c.MaxPageletConcurrency < 0 {
		return fmt.Errorf("invalid max-pagelet-concurrency: %d", c.MaxPageletConcurrency)
	}

	return nil
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		// the command line wins over the file
		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	c.HistogramMetricBuckets, _ = c.parseHistogramBuckets(c.HistogramMetricBucketsString, prometheus.DefBuckets)
	c.IDInjectionCutoff, _ = parseCutoff(c.IDInjectionCutoffString)

	c.parseEnv()
	return nil
}

func (c *Config) ToOptions() requesthandler.Options {
	return requesthandler.Options{
		Address:                    c.Address,
		SupportListener:            c.SupportListener,
		ReadTimeoutServer:          c.ReadTimeoutServer,
		ReadHeaderTimeoutServer:    c.ReadHeaderTimeoutServer,
		WriteTimeoutServer:         c.WriteTimeoutServer,
		IdleTimeoutServer:          c.IdleTimeoutServer,
		MaxHeaderBytes:             c.MaxHeaderBytes,
		WaitForHealthcheckInterval: c.WaitForHealthcheckInterval,

		ApplicationLog:            c.ApplicationLog,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogLevel:       c.ApplicationLogLevel,
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
		AccessLog:                 c.AccessLog,
		AccessLogDisabled:         c.AccessLogDisabled,
		AccessLogJSONEnabled:      c.AccessLogJSONEnabled,

		MetricsPrefix:          c.MetricsPrefix,
		EnableRuntimeMetrics:   c.EnableRuntimeMetrics,
		HistogramMetricBuckets: c.HistogramMetricBuckets,
		OpenTracing:            strings.Fields(c.OpenTracing),

		DeliveryURL:             c.DeliveryURL,
		DeliveryTimeout:         c.DeliveryTimeout,
		DeliveryMaxTries:        c.DeliveryMaxTries,
		DeliveryBreakerFailures: c.DeliveryBreakerFailures,
		DeliveryBreakerTimeout:  c.DeliveryBreakerTimeout,

		APIHostTemplate:   c.APIHostTemplate,
		APIAliases:        []string(c.APIAliases),
		IDInjectionCutoff: c.IDInjectionCutoff,

		EndpointTimeout:              c.EndpointTimeout,
		EndpointStreamTimeout:        c.EndpointStreamTimeout,
		MaxErrorBodyLog:              c.MaxErrorBodyLog,
		TimeoutBackend:               c.TimeoutBackend,
		ResponseHeaderTimeoutBackend: c.ResponseHeaderTimeoutBackend,
		IdleConnTimeoutBackend:       c.IdleConnTimeoutBackend,
		MaxIdleConnsBackend:          c.MaxIdleConnsBackend,
		MaxIdleConnsPerHostBackend:   c.MaxIdleConnsPerHostBackend,
		MaxConnsPerHostBackend:       c.MaxConnsPerHostBackend,
		DisableHTTPKeepalives:        c.DisableHTTPKeepalives,

		DisablePagelets:       c.DisablePagelets,
		MaxPageletConcurrency: c.MaxPageletConcurrency,
		ToolbarScriptURL:      c.ToolbarScriptURL,

		BlockVersionCacheSize: c.BlockVersionCacheSize,
		BlockVersionCacheTTL:  c.BlockVersionCacheTTL,
		RedisAddrs:            []string(c.RedisAddrs),
		RedisPassword:         c.RedisPassword,
		RedisKeyPrefix:        c.RedisKeyPrefix,
		RedisTTL:              c.RedisTTL,
		RedisReadTimeout:      c.RedisReadTimeout,
		RedisWriteTimeout:     c.RedisWriteTimeout,
		RedisDialTimeout:      c.RedisDialTimeout,
		RedisPoolTimeout:      c.RedisPoolTimeout,
		RedisMinIdleConns:     c.RedisMinIdleConns,
		RedisMaxIdleConns:     c.RedisMaxIdleConns,
	}
}

func (c *Config) parseHistogramBuckets(bucketString string, defaultBuckets []float64) ([]float64, error) {
	if bucketString == "" {
		return defaultBuckets, nil
	}

	var result []float64
	thresholds := strings.Split(bucketString, ",")
	for _, v := range thresholds {
		bucket, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse histogram-metric-buckets: %w", err)
		}
		result = append(result, bucket)
	}
	sort.Float64s(result)
	return result, nil
}

func parseCutoff(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid id-injection-cutoff: %w", err)
	}

	return t, nil
}

func (c *Config) parseEnv() {
	// Set Redis password from environment variable if not set earlier (configuration file)
	if c.RedisPassword == "" {
		c.RedisPassword = os.Getenv(redisPasswordEnv)
	}
}
