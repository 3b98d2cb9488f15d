package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	ot "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/contensis/request-handler-localdevelopment-sub000/endpoint"
	"github.com/contensis/request-handler-localdevelopment-sub000/markup"
	"github.com/contensis/request-handler-localdevelopment-sub000/metrics"
	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
	"github.com/contensis/request-handler-localdevelopment-sub000/tracing"
)

// Tag and attribute names of the composition markup.
const (
	PageletTag   = "pagelet"
	ContentTag   = "content"
	RendererAttr = "renderer"

	missingRendererComment = "<!-- pagelet without renderer attribute -->"

	pageletKind = "pagelet"
	layoutKind  = "layout"
)

// Resolver resolves the route of a renderer referenced by a document.
type Resolver interface {
	ResolveRenderer(ctx context.Context, rc *routing.RequestContext, rendererID string, parent *routing.Record) (*routing.Record, error)
}

// Invoker calls the origin of a route.
type Invoker interface {
	Invoke(ctx context.Context, method string, body io.Reader, headers http.Header, rec *routing.Record, depth int) (*endpoint.Response, error)
}

// LayoutError is returned when a layout does not contain exactly one
// content tag.
type LayoutError struct {
	RendererID string
	Count      int
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("layout %s has %d content tags, expected exactly one", e.RendererID, e.Count)
}

// Options of the Engine.
type Options struct {
	Resolver Resolver
	Invoker  Invoker

	// SSO is asked for the single sign-on capability shown by the
	// preview toolbar. Optional.
	SSO SSOChecker

	// ToolbarScriptURL defaults to DefaultToolbarScriptURL.
	ToolbarScriptURL string

	// DisablePagelets turns off the resolution of pagelet tags. Layouts
	// are still applied.
	DisablePagelets bool

	// MaxConcurrency limits the fragments of one document resolved at
	// the same time. Zero means no limit.
	MaxConcurrency int

	Tracer  ot.Tracer
	Metrics metrics.Metrics
}

// Engine composes documents from the fragments they reference.
type Engine struct {
	resolver         Resolver
	invoker          Invoker
	sso              SSOChecker
	toolbarScriptURL string
	parsePagelets    bool
	maxConcurrency   int
	tracer           ot.Tracer
	metrics          metrics.Metrics
}

// NewEngine creates an Engine.
func NewEngine(o Options) *Engine {
	if o.ToolbarScriptURL == "" {
		o.ToolbarScriptURL = DefaultToolbarScriptURL
	}

	if o.Tracer == nil {
		o.Tracer = &ot.NoopTracer{}
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	return &Engine{
		resolver:         o.Resolver,
		invoker:          o.Invoker,
		sso:              o.SSO,
		toolbarScriptURL: o.ToolbarScriptURL,
		parsePagelets:    !o.DisablePagelets,
		maxConcurrency:   o.MaxConcurrency,
		tracer:           o.Tracer,
		metrics:          o.Metrics,
	}
}

// collectPagelets returns the pagelet tags of text in document order. It
// stops at the first tag found after ctx is done.
func collectPagelets(ctx context.Context, text string) []markup.Tag {
	var tags []markup.Tag
	s := markup.NewScanner(text)
	names := []string{PageletTag}
	for ctx.Err() == nil {
		t, ok := markup.ParseNext(names, s)
		if !ok {
			break
		}

		tags = append(tags, t)
	}

	return tags
}

// Resolve composes html, the body returned for rec at depth. The static
// paths of the block version are always rewritten. When the route parses
// its content, the pagelets are replaced by the content of their
// renderers and the result is wrapped into the layout of the route, and
// at depth 0 the generator marker and the preview toolbar are added.
//
// Failed fragments do not stop the others. Their errors are combined and
// returned with the composed text. Cancellation of ctx is not reported as
// an error, the text composed so far is returned.
func (e *Engine) Resolve(
	ctx context.Context,
	rc *routing.RequestContext,
	html string,
	rec *routing.Record,
	headers http.Header,
	depth int,
) (string, error) {
	if rec.BlockVersion != nil && rec.RoutePrefix != "" {
		html = RewriteStaticPaths(html, rec.RoutePrefix, rec.BlockVersion.StaticPaths)
	}

	if !rec.ParseContent {
		return html, nil
	}

	var tags []markup.Tag
	if e.parsePagelets {
		tags = collectPagelets(ctx, html)
	}

	withLayout := rec.LayoutRendererID != ""

	var err error
	if len(tags) > 0 || withLayout {
		html, err = e.compose(ctx, rc, html, tags, rec, headers, depth)
	}

	if depth == 0 {
		html = injectGenerator(html)
		html = e.injectToolbar(ctx, rc, html)
	}

	return html, err
}

func (e *Engine) compose(
	ctx context.Context,
	rc *routing.RequestContext,
	html string,
	tags []markup.Tag,
	rec *routing.Record,
	headers http.Header,
	depth int,
) (string, error) {
	buf := NewBuffer(html, tags)

	var g errgroup.Group
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}

	// every task reports in its own slot, the group never cancels
	results := make([]error, len(tags)+1)
	launched := make([]bool, len(tags)+1)
	for i, t := range tags {
		if ctx.Err() != nil {
			break
		}

		launched[i] = true
		g.Go(func() error {
			results[i] = e.pagelet(ctx, rc, buf, t, rec, headers, depth)
			return nil
		})
	}

	layout := len(tags)
	if rec.LayoutRendererID != "" && ctx.Err() == nil {
		launched[layout] = true
		g.Go(func() error {
			results[layout] = e.layout(ctx, rc, buf, rec, depth)
			return nil
		})
	}

	_ = g.Wait()

	var failed []error
	for i, err := range results {
		if !launched[i] {
			continue
		}

		kind := pageletKind
		if i == layout {
			kind = layoutKind
		}

		if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
			continue
		}

		e.metrics.IncFragments(kind, err != nil)
		if err != nil {
			failed = append(failed, err)
		}
	}

	return buf.Text(), multierr.Combine(failed...)
}

func splice(buf *Buffer, t markup.Tag, text string) {
	if err := buf.ReplaceTag(t.ID, text); err != nil {
		log.Errorf("Failed to splice pagelet: %v", err)
	}
}

func responseText(rsp *endpoint.Response) (string, error) {
	if rsp.Stream == nil {
		return rsp.Body, nil
	}

	b, err := io.ReadAll(rsp.Stream)
	return string(b), err
}

func (e *Engine) pagelet(
	ctx context.Context,
	rc *routing.RequestContext,
	buf *Buffer,
	t markup.Tag,
	parent *routing.Record,
	headers http.Header,
	depth int,
) error {
	rendererID := t.Attr(RendererAttr)
	if rendererID == "" {
		splice(buf, t, missingRendererComment)
		return nil
	}

	span, ctx := tracing.StartSpan(ctx, e.tracer, pageletKind)
	defer span.Finish()
	span.SetTag(tracing.RendererTag, rendererID)
	span.SetTag(tracing.DepthTag, depth+1)

	rec, err := e.resolver.ResolveRenderer(ctx, rc, rendererID, parent)
	if err != nil {
		splice(buf, t, "")
		return err
	}

	if rec.Kind == routing.NotFound {
		splice(buf, t, "")
		return nil
	}

	rsp, err := e.invoker.Invoke(ctx, http.MethodGet, nil, headers, rec, depth+1)
	if err != nil {
		splice(buf, t, "")
		return err
	}

	defer rsp.Close()
	if rsp.Canceled {
		splice(buf, t, "")
		return nil
	}

	if !rsp.Success() {
		splice(buf, t, "")
		return &endpoint.EndpointError{Record: rec, Response: rsp}
	}

	text, err := responseText(rsp)
	if err != nil {
		splice(buf, t, "")
		return err
	}

	text, err = e.Resolve(ctx, rc, text, rec, headers, depth+1)
	splice(buf, t, text)
	return err
}

func (e *Engine) layout(
	ctx context.Context,
	rc *routing.RequestContext,
	buf *Buffer,
	parent *routing.Record,
	depth int,
) error {
	rendererID := parent.LayoutRendererID
	span, ctx := tracing.StartSpan(ctx, e.tracer, layoutKind)
	defer span.Finish()
	span.SetTag(tracing.RendererTag, rendererID)
	span.SetTag(tracing.DepthTag, depth+1)

	rec, err := e.resolver.ResolveRenderer(ctx, rc, rendererID, parent)
	if err != nil {
		return err
	}

	if rec.Kind == routing.NotFound {
		log.WithField("renderer", rendererID).Debug("Layout not found")
		return nil
	}

	// layouts never depend on the inbound request
	headers := make(http.Header)
	rsp, err := e.invoker.Invoke(ctx, http.MethodGet, nil, headers, rec, depth+1)
	if err != nil {
		return err
	}

	defer rsp.Close()
	if rsp.Canceled {
		return nil
	}

	if !rsp.Success() {
		return &endpoint.EndpointError{Record: rec, Response: rsp}
	}

	text, err := responseText(rsp)
	if err != nil {
		return err
	}

	if text, err = e.Resolve(ctx, rc, text, rec, headers, depth+1); err != nil {
		return err
	}

	content := markup.ParseAll(text, ContentTag)
	if len(content) != 1 {
		return &LayoutError{RendererID: rendererID, Count: len(content)}
	}

	if err := buf.WrapWithLayout(text, content[0].StartPos, content[0].EndPos); err != nil {
		log.Errorf("Failed to apply layout %s: %v", rendererID, err)
	}

	return nil
}
