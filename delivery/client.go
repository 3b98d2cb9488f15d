// Package delivery implements the clients of the content delivery and
// publishing services: the node lookup, the route directory, the block
// version source and the single sign-on check of the preview toolbar.
//
// Failed calls are retried with exponential backoff. A circuit breaker
// per client stops calling a service that keeps failing.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	ot "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/contensis/request-handler-localdevelopment-sub000/net"
	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
)

const (
	DefaultTimeout          = 5 * time.Second
	DefaultMaxTries         = 3
	DefaultInitialInterval  = 50 * time.Millisecond
	DefaultBreakerFailures  = 5
	DefaultBreakerTimeout   = 10 * time.Second
	DefaultBreakerHalfOpen  = 1
	defaultMaxResponseBytes = 4 << 20

	spanName = "delivery"
)

// ErrInvalidResponse is returned when a service responds with a body that
// cannot be parsed.
var ErrInvalidResponse = errors.New("invalid response")

// StatusError is returned when a service responds with an unexpected
// status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed, status: %d", e.URL, e.StatusCode)
}

// Options of the Client.
type Options struct {
	// BaseURL of the services, required.
	BaseURL string

	// Transport defaults to a net.Transport closed by Client.Close.
	Transport net.RoundTripper

	// Timeout of a single attempt. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxTries defaults to DefaultMaxTries.
	MaxTries int

	// InitialInterval of the exponential backoff between the tries.
	// Defaults to DefaultInitialInterval.
	InitialInterval time.Duration

	// BreakerFailures is the number of consecutive failures opening the
	// circuit breaker. Defaults to DefaultBreakerFailures.
	BreakerFailures int

	// BreakerTimeout is how long the breaker stays open. Defaults to
	// DefaultBreakerTimeout.
	BreakerTimeout time.Duration

	// BreakerHalfOpenRequests defaults to DefaultBreakerHalfOpen.
	BreakerHalfOpenRequests int

	// Tracer of the default transport.
	Tracer ot.Tracer
}

// Client calls the delivery and publishing services.
type Client struct {
	base            *url.URL
	transport       net.RoundTripper
	timeout         time.Duration
	maxTries        int
	initialInterval time.Duration
	breaker         *gobreaker.CircuitBreaker
	quit            chan struct{}
}

var (
	_ routing.NodeLookup = (*Client)(nil)
	_ routing.Directory  = (*Client)(nil)
)

// New creates a Client.
func New(o Options) (*Client, error) {
	base, err := url.Parse(o.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", o.BaseURL)
	}

	c := &Client{
		base:            base,
		transport:       o.Transport,
		timeout:         o.Timeout,
		maxTries:        o.MaxTries,
		initialInterval: o.InitialInterval,
		quit:            make(chan struct{}),
	}

	if c.transport == nil {
		c.transport = net.NewHTTPRoundTripper(net.Options{Tracer: o.Tracer}, c.quit)
	}

	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}

	if c.maxTries <= 0 {
		c.maxTries = DefaultMaxTries
	}

	if c.initialInterval <= 0 {
		c.initialInterval = DefaultInitialInterval
	}

	failures := o.BreakerFailures
	if failures <= 0 {
		failures = DefaultBreakerFailures
	}

	breakerTimeout := o.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = DefaultBreakerTimeout
	}

	halfOpen := o.BreakerHalfOpenRequests
	if halfOpen <= 0 {
		halfOpen = DefaultBreakerHalfOpen
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        base.Host,
		MaxRequests: uint32(halfOpen),
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, routing.ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("Circuit breaker of %s changed from %s to %s", name, from, to)
		},
	})

	return c, nil
}

// Close releases the idle connections of the default transport.
func (c *Client) Close() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

// endpoint builds the url of a service path. The format arguments are path
// segments, escaped in the result.
func (c *Client) endpoint(query url.Values, format string, segments ...string) string {
	plain := make([]any, len(segments))
	escaped := make([]any, len(segments))
	for i, s := range segments {
		plain[i] = s
		escaped[i] = url.PathEscape(s)
	}

	u := *c.base
	u.Path = joinPath(c.base.Path, fmt.Sprintf(format, plain...))
	u.RawPath = joinPath(c.base.EscapedPath(), fmt.Sprintf(format, escaped...))
	u.RawQuery = query.Encode()
	return u.String()
}

func joinPath(base, p string) string {
	return strings.TrimSuffix(base, "/") + p
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	return b
}

// get returns the body of a successful GET request. A missing resource is
// reported as routing.ErrNotFound and not retried.
func (c *Client) get(ctx context.Context, uri string, header http.Header) ([]byte, error) {
	op := func() ([]byte, error) {
		b, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetch(ctx, uri, header)
		})

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, backoff.Permanent(fmt.Errorf("request to %s rejected: %w", uri, err))
		case err != nil:
			return nil, err
		}

		return b.([]byte), nil
	}

	return backoff.Retry(ctx, op, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(uint(c.maxTries)))
}

func (c *Client) fetch(ctx context.Context, uri string, header http.Header) ([]byte, error) {
	log.Tracef("making request to: %s", uri)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	net.CopyHeaderExcluding(req.Header, header, nil)
	req.Header.Set("Accept", "application/json")

	rsp, err := c.transport.Do(req, spanName)
	if err != nil {
		log.Tracef("request to %s failed: %v", uri, err)
		if ctxErr := context.Cause(ctx); errors.Is(ctxErr, context.Canceled) {
			return nil, backoff.Permanent(ctxErr)
		}

		return nil, err
	}

	defer rsp.Body.Close()

	switch {
	case rsp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(routing.ErrNotFound)
	case rsp.StatusCode >= http.StatusInternalServerError:
		return nil, &StatusError{URL: uri, StatusCode: rsp.StatusCode}
	case rsp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(&StatusError{URL: uri, StatusCode: rsp.StatusCode})
	}

	b, err := io.ReadAll(io.LimitReader(rsp.Body, defaultMaxResponseBytes))
	if err != nil {
		log.Tracef("reading response body failed: %v", err)
		return nil, err
	}

	return b, nil
}
