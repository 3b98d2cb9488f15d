package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contensis/request-handler-localdevelopment-sub000/blockcache"
	"github.com/contensis/request-handler-localdevelopment-sub000/compose"
	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
)

func writeConfigFile(t *testing.T, content string) string {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.ParseArgs("requesthandler", []string{"-delivery-url=http://delivery.internal"}))

	o := cfg.ToOptions()
	assert.Equal(t, ":8080", o.Address)
	assert.Equal(t, ":9911", o.SupportListener)
	assert.Equal(t, log.InfoLevel, o.ApplicationLogLevel)
	assert.Equal(t, []string{"noop"}, o.OpenTracing)
	assert.Equal(t, prometheus.DefBuckets, o.HistogramMetricBuckets)
	assert.Equal(t, routing.DefaultAPIHostTemplate, o.APIHostTemplate)
	assert.Equal(t, compose.DefaultToolbarScriptURL, o.ToolbarScriptURL)
	assert.Equal(t, blockcache.DefaultSize, o.BlockVersionCacheSize)
	assert.True(t, o.IDInjectionCutoff.IsZero())
	assert.Empty(t, o.RedisAddrs)
}

func TestNewConfigWithArgs(t *testing.T) {
	cfg := NewConfig()
	err := cfg.ParseArgs("requesthandler", []string{
		"-delivery-url=http://delivery.internal",
		"-address=:9000",
		"-application-log-level=debug",
		"-opentracing=basic sample-modulo=10",
		"-api-alias=zenhub",
		"-api-alias=zenhub-staging",
		"-id-injection-cutoff=2023-06-01T00:00:00Z",
		"-histogram-metric-buckets=1,0.1, 0.5",
		"-redis-addrs=redis-0:6379,redis-1:6379",
		"-max-pagelet-concurrency=8",
	})
	require.NoError(t, err)

	o := cfg.ToOptions()
	assert.Equal(t, ":9000", o.Address)
	assert.Equal(t, log.DebugLevel, o.ApplicationLogLevel)
	assert.Equal(t, []string{"basic", "sample-modulo=10"}, o.OpenTracing)
	assert.Equal(t, []string{"zenhub", "zenhub-staging"}, o.APIAliases)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), o.IDInjectionCutoff)
	assert.Equal(t, []float64{0.1, 0.5, 1}, o.HistogramMetricBuckets)
	assert.Equal(t, []string{"redis-0:6379", "redis-1:6379"}, o.RedisAddrs)
	assert.Equal(t, 8, o.MaxPageletConcurrency)
}

func TestConfigFile(t *testing.T) {
	p := writeConfigFile(t, `
address: ":7000"
delivery-url: http://delivery.internal
delivery-max-tries: 5
block-version-cache-ttl: 30s
api-alias:
- zenhub
redis-addrs:
- redis-0:6379
- redis-1:6379
redis-password: set_from_file
`)

	cfg := NewConfig()
	require.NoError(t, cfg.ParseArgs("requesthandler", []string{"-config-file=" + p, "-address=:7001"}))

	o := cfg.ToOptions()
	assert.Equal(t, ":7001", o.Address, "the command line wins over the file")
	assert.Equal(t, "http://delivery.internal", o.DeliveryURL)
	assert.Equal(t, 5, o.DeliveryMaxTries)
	assert.Equal(t, 30*time.Second, o.BlockVersionCacheTTL)
	assert.Equal(t, []string{"zenhub"}, o.APIAliases)
	assert.Empty(t, cmp.Diff([]string{"redis-0:6379", "redis-1:6379"}, o.RedisAddrs))
	assert.Equal(t, "set_from_file", o.RedisPassword)
}

func TestEnvOverridesRedisPassword(t *testing.T) {
	withFile := writeConfigFile(t, "delivery-url: http://delivery.internal\nredis-password: set_from_file\n")

	for _, tt := range []struct {
		name string
		args []string
		env  string
		want string
	}{
		{
			name: "don't set redis password either from file nor environment",
			args: []string{"-delivery-url=http://delivery.internal"},
			want: "",
		},
		{
			name: "set redis password from environment",
			args: []string{"-delivery-url=http://delivery.internal"},
			env:  "set_from_env",
			want: "set_from_env",
		},
		{
			name: "set redis password from config file and ignore environment",
			args: []string{"-config-file=" + withFile},
			env:  "set_from_env",
			want: "set_from_file",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv(redisPasswordEnv, tt.env)
			}

			cfg := NewConfig()
			require.NoError(t, cfg.ParseArgs("requesthandler", tt.args))
			assert.Equal(t, tt.want, cfg.RedisPassword)
		})
	}
}

func TestValidate(t *testing.T) {
	for _, tt := range []struct {
		name string
		args []string
	}{
		{"missing delivery url", nil},
		{"invalid log level", []string{"-application-log-level=LOUD"}},
		{"invalid buckets", []string{"-histogram-metric-buckets=1,x"}},
		{"invalid cutoff", []string{"-id-injection-cutoff=yesterday"}},
		{"negative concurrency", []string{"-max-pagelet-concurrency=-1"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.args
			if tt.name != "missing delivery url" {
				args = append(args, "-delivery-url=http://delivery.internal")
			}

			cfg := NewConfig()
			assert.Error(t, cfg.ParseArgs("requesthandler", args))
		})
	}
}

func TestInvalidConfigFile(t *testing.T) {
	cfg := NewConfig()
	assert.Error(t, cfg.ParseArgs("requesthandler", []string{"-config-file=" + filepath.Join(t.TempDir(), "missing.yaml")}))

	p := writeConfigFile(t, "redis-addrs: redis-0:6379\n")
	cfg = NewConfig()
	assert.Error(t, cfg.ParseArgs("requesthandler", []string{"-config-file=" + p}))
}

func TestInvalidArguments(t *testing.T) {
	cfg := NewConfig()
	assert.Error(t, cfg.ParseArgs("requesthandler", []string{"-delivery-url=http://delivery.internal", "extra"}))
}

func TestParseHistogramBuckets(t *testing.T) {
	cfg := NewConfig()
	b, err := cfg.parseHistogramBuckets("", []float64{1})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, b)

	b, err = cfg.parseHistogramBuckets("5, 1,2.5", nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5, 5}, b)
}
