// Package gateway implements the entry point of the request handler. For
// every inbound request it resolves the route, calls the origin, retries
// on the legacy IIS site when no route or no content is found, composes
// the HTML responses and writes the result with the cache and debug
// headers.
package gateway

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	ot "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	log "github.com/sirupsen/logrus"

	"github.com/contensis/request-handler-localdevelopment-sub000/endpoint"
	"github.com/contensis/request-handler-localdevelopment-sub000/logging"
	"github.com/contensis/request-handler-localdevelopment-sub000/metrics"
	"github.com/contensis/request-handler-localdevelopment-sub000/net"
	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
	"github.com/contensis/request-handler-localdevelopment-sub000/tracing"
)

const (
	RequestIDHeader = "X-Request-Id"

	ingressSpanName = "ingress"
)

// Resolver resolves the route of an inbound request.
type Resolver interface {
	Resolve(ctx context.Context, origin *url.URL, rc *routing.RequestContext) (*routing.Record, error)
	ResolveFallback(origin *url.URL, rc *routing.RequestContext) *routing.Record
}

// Invoker calls the origin of a route.
type Invoker interface {
	Invoke(ctx context.Context, method string, body io.Reader, headers http.Header, rec *routing.Record, depth int) (*endpoint.Response, error)
}

// Composer composes an HTML document from its fragments.
type Composer interface {
	Resolve(ctx context.Context, rc *routing.RequestContext, html string, rec *routing.Record, headers http.Header, depth int) (string, error)
}

// Options of the Handler. Resolver, Invoker and Composer are required.
type Options struct {
	Resolver Resolver
	Invoker  Invoker
	Composer Composer
	Tracer   ot.Tracer
	Metrics  metrics.Metrics
}

// Handler serves the inbound requests.
type Handler struct {
	resolver Resolver
	invoker  Invoker
	composer Composer
	tracer   ot.Tracer
	metrics  metrics.Metrics
}

// served is the outcome of one inbound request.
type served struct {
	id      string
	rc      *routing.RequestContext
	origin  *url.URL
	rec     *routing.Record
	initial *routing.Record
	rsp     *endpoint.Response
}

// New creates a Handler.
func New(o Options) *Handler {
	if o.Tracer == nil {
		o.Tracer = &ot.NoopTracer{}
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	return &Handler{
		resolver: o.Resolver,
		invoker:  o.Invoker,
		composer: o.Composer,
		tracer:   o.Tracer,
		metrics:  o.Metrics,
	}
}

// originURL returns the absolute URL of the inbound request.
func originURL(r *http.Request) *url.URL {
	u := *r.URL
	u.Host = r.Host
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}

	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		u.Scheme = p
	}

	return &u
}

func (h *Handler) startSpan(r *http.Request) ot.Span {
	wireContext, err := h.tracer.Extract(ot.HTTPHeaders, ot.HTTPHeadersCarrier(r.Header))
	var span ot.Span
	if err == nil {
		span = h.tracer.StartSpan(ingressSpanName, ext.RPCServerOption(wireContext))
	} else {
		span = h.tracer.StartSpan(ingressSpanName)
	}

	span.SetTag(tracing.ComponentTag, "requesthandler")
	span.SetTag(tracing.HTTPMethodTag, r.Method)
	span.SetTag(tracing.HTTPUrlTag, r.URL.String())
	return span
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	span := h.startSpan(r)
	defer span.Finish()

	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ctx := ot.ContextWithSpan(r.Context(), span)
	rc := routing.NewRequestContext(r)
	logging.SetRequestInfo(ctx, requestID, rc.Alias, rc.ProjectAPIID)

	s := &served{id: requestID, rc: rc, origin: originURL(r)}
	code := h.serve(ctx, w, r, s)
	span.SetTag(tracing.HTTPStatusCodeTag, code)
	if s.rec != nil {
		span.SetTag(tracing.RouteKindTag, s.rec.Kind.String())
		logging.SetRouteKind(ctx, s.rec.Kind.String())
	}
}

// serve writes the response and returns its status code.
func (h *Handler) serve(ctx context.Context, w http.ResponseWriter, r *http.Request, s *served) int {
	start := time.Now()
	rec, err := h.resolver.Resolve(ctx, s.origin, s.rc)
	if err != nil {
		return h.fault(w, r, s, err)
	}

	h.metrics.MeasureResolve(rec.Kind.String(), start)
	s.rec = rec
	if rec.Kind == routing.NotFound && s.rc.IISFallbackEnabled() {
		s.initial = rec
		s.rec = h.resolver.ResolveFallback(s.origin, s.rc)
	}

	if s.rec.Kind == routing.NotFound {
		return h.notFound(w, r, s)
	}

	rsp, err := h.invoker.Invoke(ctx, r.Method, r.Body, r.Header, s.rec, 0)
	if err != nil {
		return h.fault(w, r, s, err)
	}

	if rsp.StatusCode == http.StatusNotFound && !s.rec.IsIISFallback && s.rc.IISFallbackEnabled() && replayable(r) {
		rsp.Close()
		s.initial = s.rec
		s.rec = h.resolver.ResolveFallback(s.origin, s.rc)
		if rsp, err = h.invoker.Invoke(ctx, r.Method, nil, r.Header, s.rec, 0); err != nil {
			return h.fault(w, r, s, err)
		}
	}

	defer rsp.Close()
	s.rsp = rsp
	if rsp.Canceled {
		w.WriteHeader(http.StatusInternalServerError)
		return http.StatusInternalServerError
	}

	// a HEAD response never has a body
	if s.rec.IsIISFallback && r.Method == http.MethodGet {
		rsp.NotFoundIfEmpty()
	}

	if s.rc.SiteType != routing.Live && friendlyStatus(rsp.StatusCode) {
		return h.errorPage(w, r, s, rsp.StatusCode)
	}

	if rsp.IsHTML() && (s.rec.ParseContent || s.rec.BlockVersion != nil) {
		html, err := h.composer.Resolve(ctx, s.rc, rsp.Body, s.rec, r.Header, 0)
		switch {
		case err != nil && ctx.Err() != nil:
			log.WithFields(s.rc.Fields()).Debugf("Composition canceled: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return http.StatusInternalServerError
		case err != nil && isStructured(err):
			return h.compositionErrors(w, s, err)
		case err != nil:
			return h.fault(w, r, s, err)
		}

		rsp.Body = html
	}

	return h.write(w, r, s)
}

// replayable tells whether the request can be sent again, to the fallback
// origin.
func replayable(r *http.Request) bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, s *served) int {
	rsp := s.rsp
	hdr := w.Header()
	net.CopyHeaderExcluding(hdr, rsp.Header, net.HopHeaders)
	setCacheHeaders(hdr, s, rsp.StatusCode)
	setDebugHeaders(hdr, s)

	if rsp.Stream == nil {
		hdr.Set("Content-Length", strconv.Itoa(len(rsp.Body)))
	}

	w.WriteHeader(rsp.StatusCode)
	if r.Method == http.MethodHead {
		return rsp.StatusCode
	}

	if rsp.Stream != nil {
		if _, err := net.CopyStream(w, rsp.Stream); err != nil && r.Context().Err() == nil {
			log.WithFields(s.rc.Fields()).Errorf("Failed to stream the response of %s: %v", s.origin, err)
		}

		return rsp.StatusCode
	}

	if _, err := io.WriteString(w, rsp.Body); err != nil {
		log.WithFields(s.rc.Fields()).Debugf("Failed to write the response of %s: %v", s.origin, err)
	}

	return rsp.StatusCode
}
