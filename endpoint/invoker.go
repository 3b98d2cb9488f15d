package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	ot "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"

	"github.com/contensis/request-handler-localdevelopment-sub000/metrics"
	"github.com/contensis/request-handler-localdevelopment-sub000/net"
	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
	"github.com/contensis/request-handler-localdevelopment-sub000/tracing"
)

const (
	// DefaultTimeout bounds a buffered endpoint call.
	DefaultTimeout = 30 * time.Second

	// DefaultStreamTimeout bounds a streamed upload or download.
	DefaultStreamTimeout = 10 * time.Minute

	// DefaultMaxErrorBodyLog limits the part of a 5xx body written to
	// the log.
	DefaultMaxErrorBodyLog = 4096

	perfTraceHeader = "X-Perf-Trace"
	spanName        = "endpoint"
	originSpanName  = "origin"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".webm": true,
	".ogv":  true,
	".mov":  true,
	".avi":  true,
	".wmv":  true,
	".flv":  true,
	".mkv":  true,
	".mpg":  true,
	".mpeg": true,
}

// Options of the Invoker.
type Options struct {
	// Transport executes the outgoing requests. Required.
	Transport net.RoundTripper

	// Timeout of buffered calls. Defaults to DefaultTimeout.
	Timeout time.Duration

	// StreamTimeout of streamed calls. Defaults to DefaultStreamTimeout.
	StreamTimeout time.Duration

	// MaxErrorBodyLog defaults to DefaultMaxErrorBodyLog.
	MaxErrorBodyLog int

	Tracer  ot.Tracer
	Metrics metrics.Metrics
}

// Invoker calls the origin of a resolved route.
type Invoker struct {
	transport       net.RoundTripper
	timeout         time.Duration
	streamTimeout   time.Duration
	maxErrorBodyLog int
	tracer          ot.Tracer
	metrics         metrics.Metrics
}

// New creates an Invoker.
func New(o Options) *Invoker {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.StreamTimeout <= 0 {
		o.StreamTimeout = DefaultStreamTimeout
	}

	if o.MaxErrorBodyLog <= 0 {
		o.MaxErrorBodyLog = DefaultMaxErrorBodyLog
	}

	if o.Tracer == nil {
		o.Tracer = &ot.NoopTracer{}
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	return &Invoker{
		transport:       o.Transport,
		timeout:         o.Timeout,
		streamTimeout:   o.StreamTimeout,
		maxErrorBodyLog: o.MaxErrorBodyLog,
		tracer:          o.Tracer,
		metrics:         o.Metrics,
	}
}

func hasBody(method string, body io.Reader) bool {
	if body == nil || body == http.NoBody {
		return false
	}

	return method != http.MethodGet && method != http.MethodHead
}

func isStreamed(method string, body io.Reader, rec *routing.Record) bool {
	if rec.Kind == routing.NodeBlock && hasBody(method, body) {
		return true
	}

	return rec.IsIISFallback &&
		method == http.MethodGet &&
		videoExtensions[strings.ToLower(path.Ext(rec.TargetURI.Path))]
}

func isText(contentType string) bool {
	ct := strings.ToLower(contentType)
	switch {
	case ct == "":
		return true
	case strings.HasPrefix(ct, "text/"):
		return true
	case strings.Contains(ct, "json"),
		strings.Contains(ct, "javascript"),
		strings.Contains(ct, "xml"),
		strings.Contains(ct, "html"):
		return true
	default:
		return false
	}
}

func healthCheckResponse() *Response {
	r := synthetic(http.StatusOK)
	r.Header.Set("Content-Type", "application/json")
	r.Body = `{"status":"ok"}`
	return r
}

// cancelBody cancels the context of a streamed call when the stream is
// closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b cancelBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

// Invoke calls the origin of rec, forwarding the allowed part of the
// inbound headers. Depth is the nesting level of the call, 0 being the
// inbound request.
//
// Failures of the origin and of the transport are returned as responses.
// The only returned error is a *RecursionError, or an error when the
// outgoing request cannot be created.
func (inv *Invoker) Invoke(
	ctx context.Context,
	method string,
	body io.Reader,
	headers http.Header,
	rec *routing.Record,
	depth int,
) (*Response, error) {
	if depth > MaxDepth {
		inv.metrics.IncRecursionRejected()
		return nil, recursionError(rec, depth)
	}

	if rec.Kind == routing.NotFound || rec.TargetURI == nil {
		return synthetic(http.StatusNotFound), nil
	}

	if rec.IsIISFallback && routing.IsHealthCheck(headers) {
		return healthCheckResponse(), nil
	}

	span, ctx := tracing.StartSpan(ctx, inv.tracer, spanName)
	defer span.Finish()
	span.SetTag(tracing.RouteKindTag, rec.Kind.String())
	span.SetTag(tracing.DepthTag, depth)

	streamed := isStreamed(method, body, rec)
	timeout := inv.timeout
	if streamed {
		timeout = inv.streamTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(callCtx, method, rec.TargetURI.String(), body)
	if err != nil {
		cancel()
		return nil, err
	}

	req.Header = outgoingHeaders(headers, rec.Headers)
	if rec.Host != "" {
		req.Host = rec.Host
	}

	start := time.Now()
	rsp, err := inv.transport.Do(req, originSpanName)
	if err != nil {
		cancel()
		return inv.transportFailure(ctx, rec, err, start), nil
	}

	ttfb := time.Since(start)
	defer func() {
		inv.metrics.MeasureEndpoint(rec.Kind.String(), rsp.StatusCode, start)
	}()

	r := &Response{
		StatusCode: rsp.StatusCode,
		Header:     rsp.Header,
	}

	if t := rsp.Header.Get(perfTraceHeader); t != "" && json.Valid([]byte(t)) {
		r.Trace = json.RawMessage(t)
	}

	if streamed || (!isText(rsp.Header.Get("Content-Type")) && rsp.ContentLength != 0) {
		r.Stream = cancelBody{ReadCloser: rsp.Body, cancel: cancel}
		inv.logServerError(rec, r)
		inv.recordTimings(rec, ttfb, -1, start)
		return r, nil
	}

	readStart := time.Now()
	b, err := io.ReadAll(rsp.Body)
	rsp.Body.Close()
	cancel()
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			r := synthetic(http.StatusInternalServerError)
			r.Canceled = true
			return r, nil
		}

		log.WithFields(log.Fields{
			"target": rec.TargetURI.String(),
			"kind":   rec.Kind.String(),
		}).Errorf("Failed to read the endpoint response: %v", err)
		return synthetic(http.StatusInternalServerError), nil
	}

	if enc := rsp.Header.Get("Content-Encoding"); enc != "" {
		if decoded, err := decode(enc, b); err != nil {
			log.WithField("target", rec.TargetURI.String()).Warnf("Failed to decode the endpoint response: %v", err)
		} else {
			b = decoded
			r.Header.Del("Content-Encoding")
			r.Header.Del("Content-Length")
		}
	}

	r.Body = string(b)
	inv.logServerError(rec, r)
	inv.recordTimings(rec, ttfb, time.Since(readStart), start)
	return r, nil
}

func recursionError(rec *routing.Record, depth int) *RecursionError {
	e := &RecursionError{Depth: depth, Endpoint: rec.Kind.String()}
	if rec.TargetURI != nil {
		e.Endpoint = rec.TargetURI.Host
		e.Path = rec.TargetURI.Path
	} else if rec.OriginURI != nil {
		e.Path = rec.OriginURI.Path
	}

	return e
}

func (inv *Invoker) transportFailure(ctx context.Context, rec *routing.Record, err error, start time.Time) *Response {
	r := synthetic(http.StatusInternalServerError)
	if errors.Is(ctx.Err(), context.Canceled) {
		r.Canceled = true
		return r
	}

	inv.metrics.MeasureEndpoint(rec.Kind.String(), r.StatusCode, start)
	log.WithFields(log.Fields{
		"target": rec.TargetURI.String(),
		"kind":   rec.Kind.String(),
	}).Errorf("Failed to call endpoint: %v", err)
	return r
}

func (inv *Invoker) logServerError(rec *routing.Record, r *Response) {
	if r.StatusCode < 500 || rec.TargetURI.Path == "/favicon.ico" {
		return
	}

	body := r.Body
	if len(body) > inv.maxErrorBodyLog {
		body = body[:inv.maxErrorBodyLog]
	}

	log.WithFields(log.Fields{
		"target": rec.TargetURI.String(),
		"kind":   rec.Kind.String(),
		"status": r.StatusCode,
	}).Errorf("Endpoint responded with an error: %s", body)
}

// recordTimings adds the phases of a traced call to the record. A negative
// read duration means the body was not read.
func (inv *Invoker) recordTimings(rec *routing.Record, ttfb, read time.Duration, start time.Time) {
	if rec.Debug == nil {
		return
	}

	rec.Metrics.Add("endpoint.ttfb", ttfb)
	if read >= 0 {
		rec.Metrics.Add("endpoint.read", read)
	}

	rec.Metrics.Add("endpoint.total", time.Since(start))
}
