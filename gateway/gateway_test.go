package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/opentracing/opentracing-go/mocktracer"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/contensis/request-handler-localdevelopment-sub000/compose"
	"github.com/contensis/request-handler-localdevelopment-sub000/endpoint"
	"github.com/contensis/request-handler-localdevelopment-sub000/logging"
	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
)

type testResolver struct {
	records map[string]*routing.Record
	err     error
}

func (tr *testResolver) Resolve(_ context.Context, origin *url.URL, _ *routing.RequestContext) (*routing.Record, error) {
	if tr.err != nil {
		return nil, tr.err
	}

	if rec, ok := tr.records[origin.Path]; ok {
		return rec, nil
	}

	return &routing.Record{Kind: routing.NotFound, OriginURI: origin, Metrics: &routing.Metrics{}}, nil
}

func (tr *testResolver) ResolveFallback(origin *url.URL, rc *routing.RequestContext) *routing.Record {
	if !rc.IISFallbackEnabled() {
		return &routing.Record{Kind: routing.NotFound, OriginURI: origin, Metrics: &routing.Metrics{}}
	}

	return &routing.Record{
		Kind:          routing.IISFallback,
		OriginURI:     origin,
		TargetURI:     &url.URL{Scheme: "http", Host: rc.LoadBalancerVIP, Path: origin.Path},
		Host:          rc.IISHostname,
		ParseContent:  true,
		IsIISFallback: true,
		Metrics:       &routing.Metrics{},
	}
}

type invocation struct {
	method string
	kind   routing.Kind
	body   bool
}

type testInvoker struct {
	mu        sync.Mutex
	responses map[routing.Kind]func() *endpoint.Response
	calls     []invocation
}

func (ti *testInvoker) Invoke(_ context.Context, method string, body io.Reader, _ http.Header, rec *routing.Record, _ int) (*endpoint.Response, error) {
	ti.mu.Lock()
	ti.calls = append(ti.calls, invocation{method: method, kind: rec.Kind, body: body != nil})
	ti.mu.Unlock()

	if f, ok := ti.responses[rec.Kind]; ok {
		return f(), nil
	}

	return &endpoint.Response{StatusCode: http.StatusNotFound, Header: http.Header{}}, nil
}

type composerFunc func(html string, rec *routing.Record) (string, error)

func (f composerFunc) Resolve(_ context.Context, _ *routing.RequestContext, html string, rec *routing.Record, _ http.Header, _ int) (string, error) {
	return f(html, rec)
}

func html(code int, body string) func() *endpoint.Response {
	return func() *endpoint.Response {
		h := http.Header{}
		h.Set("Content-Type", "text/html; charset=utf-8")
		return &endpoint.Response{StatusCode: code, Header: h, Body: body}
	}
}

func blockRecord(keys ...string) *routing.Record {
	return &routing.Record{
		Kind:         routing.NodeBlock,
		TargetURI:    &url.URL{Scheme: "http", Host: "block", Path: "/"},
		ParseContent: true,
		CacheKeys:    keys,
		Metrics:      &routing.Metrics{},
	}
}

type testGateway struct {
	resolver *testResolver
	invoker  *testInvoker
	composer composerFunc
}

func newTestGateway() *testGateway {
	return &testGateway{
		resolver: &testResolver{records: make(map[string]*routing.Record)},
		invoker:  &testInvoker{responses: make(map[routing.Kind]func() *endpoint.Response)},
		composer: func(html string, _ *routing.Record) (string, error) { return html, nil },
	}
}

func (g *testGateway) handler() *Handler {
	return New(Options{Resolver: g.resolver, Invoker: g.invoker, Composer: g.composer})
}

func (g *testGateway) serve(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	g.handler().ServeHTTP(w, r)
	return w
}

func liveRequest(method, target string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	r.Header.Set("X-Site-Type", "live")
	r.Header.Set("X-Alias", "zenhub")
	r.Header.Set("X-Project-Api-Id", "website")
	return r
}

func withFallback(r *http.Request) *http.Request {
	r.Header.Set("X-Iis-Hostname", "legacy.example.org")
	r.Header.Set("X-Loadbalancer-Vip", "10.0.0.1")
	return r
}

func TestEmptyFallbackResponseIsCachedNotFound(t *testing.T) {
	for path, maxAge := range map[string]string{"/": "max-age=30", "/about": "max-age=5"} {
		g := newTestGateway()
		g.invoker.responses[routing.IISFallback] = html(http.StatusOK, "")

		w := g.serve(withFallback(liveRequest("GET", "http://www.example.org"+path)))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, maxAge, w.Header().Get(SurrogateControlHeader), path)
		assert.Empty(t, w.Body.String(), path)
	}
}

func TestHeadOnFallbackIsNotNormalized(t *testing.T) {
	g := newTestGateway()
	g.invoker.responses[routing.IISFallback] = html(http.StatusOK, "")

	w := g.serve(withFallback(liveRequest("HEAD", "http://www.example.org/about")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(SurrogateControlHeader))
	require.Len(t, g.invoker.calls, 1)
	assert.Equal(t, "HEAD", g.invoker.calls[0].method)
}

func TestFallbackOnNotFound(t *testing.T) {
	g := newTestGateway()
	g.resolver.records["/legacy"] = blockRecord()
	g.invoker.responses[routing.NodeBlock] = html(http.StatusNotFound, "missing")
	g.invoker.responses[routing.IISFallback] = html(http.StatusOK, "legacy")

	w := g.serve(withFallback(liveRequest("GET", "http://www.example.org/legacy")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "legacy", w.Body.String())
	assert.Empty(t, w.Header().Get(SurrogateControlHeader))
	require.Len(t, g.invoker.calls, 2)
	assert.Equal(t, routing.IISFallback, g.invoker.calls[1].kind)
	assert.False(t, g.invoker.calls[1].body)
}

func TestNoFallbackForUploads(t *testing.T) {
	g := newTestGateway()
	g.resolver.records["/form"] = blockRecord()
	g.invoker.responses[routing.NodeBlock] = html(http.StatusNotFound, "missing")

	w := g.serve(withFallback(liveRequest("POST", "http://www.example.org/form")))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "missing", w.Body.String())
	assert.Len(t, g.invoker.calls, 1)
}

func TestNotFoundWithoutFallback(t *testing.T) {
	g := newTestGateway()
	w := g.serve(liveRequest("GET", "http://www.example.org/nothing"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not Found\n", w.Body.String())
	assert.Empty(t, g.invoker.calls)
}

func TestFriendlyErrorPages(t *testing.T) {
	g := newTestGateway()
	r := httptest.NewRequest("GET", "http://www.example.org/nothing", nil)
	r.Header.Set("X-Site-Type", "preview")
	r.Header.Set("X-Alias", "zen<hub>")
	r.Header.Set(RequestIDHeader, "req-1")

	w := g.serve(r)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "<title>404 Not Found</title>")
	assert.Contains(t, body, "<dd>/nothing</dd>")
	assert.Contains(t, body, "<dd>zen&lt;hub&gt;</dd>")
	assert.Contains(t, body, "<dd>req-1</dd>")

	g.resolver.records["/broken"] = blockRecord()
	g.invoker.responses[routing.NodeBlock] = html(http.StatusServiceUnavailable, "origin page")
	r = httptest.NewRequest("GET", "http://www.example.org/broken", nil)
	w = g.serve(r)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "temporarily unavailable")
	assert.Contains(t, w.Body.String(), "<dd>block</dd>")

	w = g.serve(liveRequest("GET", "http://www.example.org/broken"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "origin page", w.Body.String(), "live sites get the origin response")
}

func TestComposeHTML(t *testing.T) {
	g := newTestGateway()
	g.resolver.records["/page"] = blockRecord("node-1", "entry-2")
	g.invoker.responses[routing.NodeBlock] = html(http.StatusOK, `<pagelet renderer="r1"/>`)
	g.composer = func(html string, rec *routing.Record) (string, error) {
		return strings.ReplaceAll(html, `<pagelet renderer="r1"/>`, "<p>composed</p>"), nil
	}

	w := g.serve(liveRequest("GET", "http://www.example.org/page"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<p>composed</p>", w.Body.String())
	assert.Equal(t, "15", w.Header().Get("Content-Length"))
	assert.Equal(t, "node-1 entry-2", w.Header().Get(SurrogateKeyHeader))
}

func TestComposeOnlyParsedHTML(t *testing.T) {
	g := newTestGateway()
	rec := blockRecord()
	rec.ParseContent = false
	g.resolver.records["/page"] = rec
	g.invoker.responses[routing.NodeBlock] = html(http.StatusOK, "raw")
	g.composer = func(string, *routing.Record) (string, error) {
		t.Error("unexpected composition")
		return "", nil
	}

	w := g.serve(liveRequest("GET", "http://www.example.org/page"))
	assert.Equal(t, "raw", w.Body.String())
}

func TestStaticPathsRewrittenWithoutParsing(t *testing.T) {
	for _, parse := range []bool{true, false} {
		g := newTestGateway()
		rec := blockRecord()
		rec.ParseContent = parse
		rec.BlockVersion = routing.NewBlockVersion(routing.BlockVersion{ProjectID: "website", VersionID: "v1"})
		rec.RoutePrefix = routing.RoutePrefix("website", "v1")
		g.resolver.records["/page"] = rec
		g.invoker.responses[routing.NodeBlock] = html(http.StatusOK, `<link href="/static/css/a.css">`)

		engine := compose.NewEngine(compose.Options{Invoker: g.invoker})
		h := New(Options{Resolver: g.resolver, Invoker: g.invoker, Composer: engine})

		w := httptest.NewRecorder()
		h.ServeHTTP(w, liveRequest("GET", "http://www.example.org/page"))
		assert.Contains(t, w.Body.String(), `<link href="/`+rec.RoutePrefix+`/static/css/a.css">`, "parse content: %v", parse)
	}
}

func TestStructuredCompositionErrors(t *testing.T) {
	g := newTestGateway()
	g.resolver.records["/page"] = blockRecord()
	g.invoker.responses[routing.NodeBlock] = html(http.StatusOK, "<p/>")

	nested := blockRecord()
	nested.TargetURI.Path = "/fragment"
	g.composer = func(string, *routing.Record) (string, error) {
		return "partial", multierr.Combine(
			&endpoint.EndpointError{Record: nested, Response: &endpoint.Response{StatusCode: http.StatusBadGateway}},
			&endpoint.RecursionError{Endpoint: "block", Path: "/self", Depth: 10},
		)
	}

	w := g.serve(liveRequest("GET", "http://www.example.org/page"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var messages []map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0]["message"], "502")
	assert.Contains(t, messages[1]["message"], "/self")
}

func TestUnstructuredFaultsAreLogged(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	g := newTestGateway()
	g.resolver.err = &routing.LookupError{Request: "node /page", Err: errors.New("connection refused")}

	r := liveRequest("GET", "http://www.example.org/page")
	r.Header.Set("X-Block-Config", "block-b1-branch=develop")
	w := g.serve(r)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal Server Error\n", w.Body.String())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "zenhub", entry.Data["alias"])
	assert.Equal(t, "website", entry.Data["projectId"])
	assert.Equal(t, "node /page", entry.Data["lookup"])
	assert.Equal(t, "block-b1-branch=develop", entry.Data["x-block-config"])
	assert.Contains(t, entry.Message, "connection refused")
}

func TestCompositionFaults(t *testing.T) {
	g := newTestGateway()
	g.resolver.records["/page"] = blockRecord()
	g.invoker.responses[routing.NodeBlock] = html(http.StatusOK, "<p/>")
	g.composer = func(string, *routing.Record) (string, error) {
		return "partial", multierr.Combine(
			&endpoint.EndpointError{Record: blockRecord(), Response: &endpoint.Response{StatusCode: http.StatusBadGateway}},
			errors.New("layout failed"),
		)
	}

	w := g.serve(liveRequest("GET", "http://www.example.org/page"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal Server Error\n", w.Body.String())
}

func TestDebugHeaders(t *testing.T) {
	g := newTestGateway()
	rec := blockRecord()
	rec.Debug = routing.NewDebugTrace(nil)
	rec.Debug.Entry = routing.DebugEntry{Kind: "block", RendererID: "page"}
	child := routing.NewDebugTrace(rec.Debug)
	child.Entry = routing.DebugEntry{Kind: "block", RendererID: "fragment"}
	rec.Metrics.Add("resolve", 0)
	g.resolver.records["/page"] = rec
	g.invoker.responses[routing.NodeBlock] = html(http.StatusOK, "ok")

	r := liveRequest("GET", "http://www.example.org/page")
	w := g.serve(r)
	assert.Empty(t, w.Header().Get(DebugDataHeader))

	r.Header.Set("X-Debug", "true")
	w = g.serve(r)
	assert.JSONEq(t, `{"kind":"block","rendererId":"page"}`, w.Header().Get(DebugDataHeader))
	assert.JSONEq(t, `[{"kind":"block","rendererId":"fragment"}]`, w.Header().Get(AdditionalDebugDataHeader))
	assert.JSONEq(t, `[{"name":"resolve","ms":0}]`, w.Header().Get(MetricsHeader))
	assert.Empty(t, w.Header().Get(InitialDebugDataHeader))
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestStreamedResponse(t *testing.T) {
	g := newTestGateway()
	g.resolver.records["/video.mp4"] = blockRecord()
	stream := &closeRecorder{Reader: strings.NewReader("binary data")}
	g.invoker.responses[routing.NodeBlock] = func() *endpoint.Response {
		h := http.Header{}
		h.Set("Content-Type", "video/mp4")
		h.Set("Connection", "close")
		return &endpoint.Response{StatusCode: http.StatusOK, Header: h, Stream: stream}
	}

	w := g.serve(liveRequest("GET", "http://www.example.org/video.mp4"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "binary data", w.Body.String())
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
	assert.Empty(t, w.Header().Get("Connection"))
	assert.True(t, w.Flushed)
	assert.True(t, stream.closed)
}

func TestHeadWritesNoBody(t *testing.T) {
	g := newTestGateway()
	g.resolver.records["/page"] = blockRecord()
	g.invoker.responses[routing.NodeBlock] = html(http.StatusOK, "content")

	w := g.serve(liveRequest("HEAD", "http://www.example.org/page"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7", w.Header().Get("Content-Length"))
	assert.Empty(t, w.Body.String())
}

func TestAccessLogFields(t *testing.T) {
	g := newTestGateway()
	g.resolver.records["/page"] = blockRecord()
	g.invoker.responses[routing.NodeBlock] = html(http.StatusOK, "content")

	var entry *logging.AccessEntry
	h := logging.NewHandler(g.handler(), func(e *logging.AccessEntry) { entry = e })
	h.ServeHTTP(httptest.NewRecorder(), liveRequest("GET", "http://www.example.org/page"))

	require.NotNil(t, entry)
	assert.Equal(t, http.StatusOK, entry.StatusCode)
	assert.Equal(t, "zenhub", entry.Alias)
	assert.Equal(t, "block", entry.RouteKind)
	assert.Len(t, entry.RequestID, 36)
}

func TestIngressSpan(t *testing.T) {
	tracer := mocktracer.New()
	g := newTestGateway()
	g.resolver.records["/page"] = blockRecord()
	g.invoker.responses[routing.NodeBlock] = html(http.StatusOK, "content")

	New(Options{Resolver: g.resolver, Invoker: g.invoker, Composer: g.composer, Tracer: tracer}).
		ServeHTTP(httptest.NewRecorder(), liveRequest("GET", "http://www.example.org/page"))

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "ingress", spans[0].OperationName)
	assert.Equal(t, 200, spans[0].Tag("http.status_code"))
	assert.Equal(t, "block", spans[0].Tag("route.kind"))
}

func TestOriginURL(t *testing.T) {
	r := httptest.NewRequest("GET", "/a?b=c", nil)
	r.Host = "www.example.org"
	assert.Equal(t, "http://www.example.org/a?b=c", originURL(r).String())

	r.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://www.example.org/a?b=c", originURL(r).String())
}
