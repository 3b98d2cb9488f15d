package net

import (
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/contensis/request-handler-localdevelopment-sub000/tracing"
)

// RoundTripper executes outgoing requests of one hop, recording a span
// for each.
type RoundTripper interface {
	http.RoundTripper
	// Do executes the http request round trip as a child span, named by
	// spanName, of the span found in the request context.
	Do(*http.Request, string) (*http.Response, error)
}

// Options are mostly passed to the http.Transport of the same
// name. Options.Timeout can be used as default for all timeouts, that
// are not set. Tracer can be nil to get the opentracing.NoopTracer.
type Options struct {
	// DisableKeepAlives see https://golang.org/pkg/net/http/#Transport.DisableKeepAlives
	DisableKeepAlives bool
	// DisableCompression see https://golang.org/pkg/net/http/#Transport.DisableCompression
	DisableCompression bool
	// MaxIdleConns see https://golang.org/pkg/net/http/#Transport.MaxIdleConns
	MaxIdleConns int
	// MaxIdleConnsPerHost see https://golang.org/pkg/net/http/#Transport.MaxIdleConnsPerHost
	MaxIdleConnsPerHost int
	// MaxConnsPerHost see https://golang.org/pkg/net/http/#Transport.MaxConnsPerHost
	MaxConnsPerHost int
	// Timeout sets all Timeouts, that are set to 0 to the given
	// value. Basically it's the default timeout value.
	Timeout time.Duration
	// TLSHandshakeTimeout, if not set or set to 0, is Options.Timeout.
	TLSHandshakeTimeout time.Duration
	// IdleConnTimeout, if not set or set to 0, is Options.Timeout.
	IdleConnTimeout time.Duration
	// ResponseHeaderTimeout is not defaulted to Options.Timeout, because
	// streamed and long running origin calls are bounded by their request
	// context instead.
	ResponseHeaderTimeout time.Duration
	// ExpectContinueTimeout, if not set or set to 0, is Options.Timeout.
	ExpectContinueTimeout time.Duration
	// Tracer
	Tracer opentracing.Tracer
}

// Transport is the outgoing transport of the request handler. It never
// follows redirects, the responses are returned as they are.
type Transport struct {
	tr     *http.Transport
	tracer opentracing.Tracer
}

// DefaultTimeout is used when Options.Timeout is not set.
const DefaultTimeout = 30 * time.Second

// NewHTTPRoundTripper creates a transport, and closes its idle connections
// periodically until quit is closed.
func NewHTTPRoundTripper(options Options, quit <-chan struct{}) *Transport {
	if options.Tracer == nil {
		options.Tracer = &opentracing.NoopTracer{}
	}

	if options.Timeout == 0 {
		options.Timeout = DefaultTimeout
	}
	if options.TLSHandshakeTimeout == 0 {
		options.TLSHandshakeTimeout = options.Timeout
	}
	if options.IdleConnTimeout == 0 {
		options.IdleConnTimeout = options.Timeout
	}
	if options.ExpectContinueTimeout == 0 {
		options.ExpectContinueTimeout = options.Timeout
	}

	htransport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DisableKeepAlives:     options.DisableKeepAlives,
		DisableCompression:    options.DisableCompression,
		MaxIdleConns:          options.MaxIdleConns,
		MaxIdleConnsPerHost:   options.MaxIdleConnsPerHost,
		MaxConnsPerHost:       options.MaxConnsPerHost,
		ResponseHeaderTimeout: options.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   options.TLSHandshakeTimeout,
		IdleConnTimeout:       options.IdleConnTimeout,
		ExpectContinueTimeout: options.ExpectContinueTimeout,
	}

	go func() {
		for {
			select {
			case <-time.After(options.IdleConnTimeout):
				htransport.CloseIdleConnections()
			case <-quit:
				return
			}
		}
	}()

	return &Transport{
		tr:     htransport,
		tracer: options.Tracer,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.tr.RoundTrip(req)
}

// Do executes the request in a new span, child of the span in the request
// context.
func (t *Transport) Do(req *http.Request, spanName string) (*http.Response, error) {
	span := t.injectSpan(spanName, req)
	defer span.Finish()
	req = injectClientTrace(req.WithContext(opentracing.ContextWithSpan(req.Context(), span)), span)

	span.LogKV("http_do", "start")
	rsp, err := t.tr.RoundTrip(req)
	span.LogKV("http_do", "stop")

	if err != nil {
		span.SetTag(tracing.ErrorTag, true)
		span.LogKV("event", "error", "message", err.Error())
		return nil, err
	}

	span.SetTag(tracing.HTTPStatusCodeTag, rsp.StatusCode)
	return rsp, nil
}

func (t *Transport) injectSpan(spanName string, req *http.Request) opentracing.Span {
	span := tracing.CreateSpan(spanName, req.Context(), t.tracer)
	span.SetTag(tracing.HTTPUrlTag, req.URL.String())
	span.SetTag(tracing.HTTPMethodTag, req.Method)
	_ = t.tracer.Inject(span.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(req.Header))
	return span
}

func injectClientTrace(req *http.Request, span opentracing.Span) *http.Request {
	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			span.LogKV("DNS", "start")
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			span.LogKV("DNS", "end")
		},
		ConnectStart: func(string, string) {
			span.LogKV("connect", "start")
		},
		ConnectDone: func(string, string, error) {
			span.LogKV("connect", "end")
		},
		TLSHandshakeStart: func() {
			span.LogKV("TLS", "start")
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			span.LogKV("TLS", "end")
		},
		GetConn: func(string) {
			span.LogKV("get_conn", "start")
		},
		GotConn: func(httptrace.GotConnInfo) {
			span.LogKV("get_conn", "end")
		},
		GotFirstResponseByte: func() {
			span.LogKV("response", "first_byte")
		},
	}
	return req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
}
