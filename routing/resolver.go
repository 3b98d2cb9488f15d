package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultAPIHostTemplate is used to build the direct API routes, the
// argument is the tenant alias.
const DefaultAPIHostTemplate = "https://api-%s.cloud.contensis.com"

const (
	apiPrefix         = "/api/"
	staticPrefix      = "/_"
	faviconPath       = "/favicon.ico"
	originPathParam   = "originPath"
	nodeIDParam       = "nodeId"
	entryIDParam      = "entryId"
	resolveTimingName = "resolve"
)

// Options of the Resolver.
type Options struct {
	Nodes         NodeLookup
	Directory     Directory
	BlockVersions BlockVersionStore

	// APIHostTemplate is the fmt template of the direct API host, taking
	// the tenant alias. Defaults to DefaultAPIHostTemplate.
	APIHostTemplate string

	// APIAliases are the tenants whose API requests are not routed
	// directly to the API host.
	APIAliases []string

	// IDInjectionCutoff disables forwarding the node and entry ids for
	// nodes published after it. Zero means the ids are always forwarded.
	IDInjectionCutoff time.Time
}

// Resolver turns request URIs into routing records.
type Resolver struct {
	nodes         NodeLookup
	directory     Directory
	blockVersions BlockVersionStore
	apiTemplate   string
	apiAliases    map[string]bool
	cutoff        time.Time
}

// NewResolver creates a resolver. Nodes and Directory are required.
func NewResolver(o Options) *Resolver {
	r := &Resolver{
		nodes:         o.Nodes,
		directory:     o.Directory,
		blockVersions: o.BlockVersions,
		apiTemplate:   o.APIHostTemplate,
		apiAliases:    make(map[string]bool),
		cutoff:        o.IDInjectionCutoff,
	}

	if r.apiTemplate == "" {
		r.apiTemplate = DefaultAPIHostTemplate
	}

	for _, a := range o.APIAliases {
		r.apiAliases[strings.ToLower(a)] = true
	}

	return r
}

func excluded(p string) bool {
	lp := strings.ToLower(p)
	return strings.HasPrefix(lp, apiPrefix) ||
		strings.HasPrefix(lp, staticPrefix) ||
		lp == faviconPath
}

func samePath(a, b string) bool {
	a = strings.TrimSuffix(a, "/")
	b = strings.TrimSuffix(b, "/")
	return strings.EqualFold(a, b)
}

func joinPath(base, p string) string {
	if p == "" {
		if base == "" {
			return "/"
		}

		return base
	}

	if base == "" || base == "/" {
		if !strings.HasPrefix(p, "/") {
			return "/" + p
		}

		return p
	}

	trailing := strings.HasSuffix(p, "/")
	joined := path.Join(base, p)
	if trailing && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}

	return joined
}

func newDebug(rc *RequestContext, parent *DebugTrace) *DebugTrace {
	if rc == nil || !rc.Debug {
		return nil
	}

	return NewDebugTrace(parent)
}

func projectOf(bv *BlockVersion, rc *RequestContext) string {
	if bv.ProjectID != "" {
		return bv.ProjectID
	}

	return rc.ProjectUUID
}

func finish(rec *Record, rendererID string, start time.Time) *Record {
	rec.Metrics.Add(resolveTimingName, time.Since(start))
	rec.Debug.fill(rec, rendererID)
	return rec
}

// Resolve decides the route for a request URI.
func (r *Resolver) Resolve(ctx context.Context, origin *url.URL, rc *RequestContext) (*Record, error) {
	start := time.Now()
	debug := newDebug(rc, nil)
	p := origin.Path
	if p == "" {
		p = "/"
	}

	if !excluded(p) {
		node, err := r.nodes.LookupNode(ctx, rc, p)
		switch {
		case err == nil && node != nil:
			rec, err := r.resolveNode(ctx, origin, p, rc, node, debug)
			if err != nil {
				return nil, err
			}

			if rec != nil {
				return finish(rec, rendererOf(node), start), nil
			}
		case err == nil, errors.Is(err, ErrNotFound):
		default:
			return nil, lookupError(err, "node lookup for %s in project %s", p, rc.ProjectAPIID)
		}
	}

	rec, err := r.resolveWithoutNode(ctx, origin, p, rc, debug)
	if err != nil {
		return nil, err
	}

	return finish(rec, "", start), nil
}

func rendererOf(n *Node) string {
	if n == nil || n.Renderer == nil {
		return ""
	}

	return n.Renderer.ID
}

// partialMatchAllowed tells whether a node matching only an ancestor of
// the request path can serve it.
func partialMatchAllowed(n *Node) bool {
	return n.Renderer != nil && n.Renderer.IsPartialMatchRoot ||
		n.Proxy != nil && n.Proxy.AllowPartialMatch
}

// resolveNode returns nil without an error when the node cannot serve the
// path.
func (r *Resolver) resolveNode(ctx context.Context, origin *url.URL, p string, rc *RequestContext, node *Node, debug *DebugTrace) (*Record, error) {
	exact := samePath(node.Path, p)
	if !exact && !partialMatchAllowed(node) {
		return nil, nil
	}

	q := RouteQuery{
		ProjectID:     rc.ProjectAPIID,
		ContentTypeID: node.ContentTypeID,
		Language:      node.Language,
		PartialMatch:  !exact,
		Versions:      rc.Versions,
	}

	if node.Renderer != nil {
		q.RendererID = node.Renderer.ID
		q.RendererUUID = node.Renderer.UUID
	}

	if node.Proxy != nil && (exact || node.Proxy.AllowPartialMatch) {
		q.ProxyID = node.Proxy.ID
	}

	if q.RendererID == "" && q.RendererUUID == "" && q.ProxyID == "" {
		return nil, nil
	}

	ep, err := r.directory.Route(ctx, q)
	if errors.Is(err, ErrNotFound) {
		return notFound(origin, debug), nil
	}

	if err != nil {
		return nil, lookupError(
			err,
			"route for node %s, content type %s, renderer %s, proxy %s, language %s, partial match %t in project %s",
			node.ID, q.ContentTypeID, q.RendererID, q.ProxyID, q.Language, q.PartialMatch, q.ProjectID,
		)
	}

	return r.build(origin, rc, node, ep, debug)
}

func (r *Resolver) resolveWithoutNode(ctx context.Context, origin *url.URL, p string, rc *RequestContext, debug *DebugTrace) (*Record, error) {
	if sp, ok := ParseStaticPath(p); ok && r.blockVersions != nil {
		bv, err := r.blockVersions.Get(ctx, rc.ProjectUUID, sp.VersionID)
		switch {
		case errors.Is(err, ErrNotFound):
			return notFound(origin, debug), nil
		case err != nil:
			return nil, lookupError(err, "block version %s in project %s", sp.VersionID, rc.ProjectUUID)
		case !sp.Matches(projectOf(bv, rc)):
			return notFound(origin, debug), nil
		}

		return r.staticRecord(origin, rc, bv, sp, debug)
	}

	if strings.HasPrefix(strings.ToLower(p), apiPrefix) && rc.Alias != "" && !r.apiAliases[strings.ToLower(rc.Alias)] {
		target, err := url.Parse(fmt.Sprintf(r.apiTemplate, rc.Alias))
		if err != nil {
			return nil, lookupError(err, "api host of %s", rc.Alias)
		}

		target.Path = joinPath(target.Path, origin.Path)
		target.RawQuery = origin.RawQuery
		return &Record{
			Kind:      DirectURL,
			OriginURI: origin,
			TargetURI: target,
			Headers:   make(http.Header),
			Metrics:   &Metrics{},
			Debug:     debug,
		}, nil
	}

	return notFound(origin, debug), nil
}

func (r *Resolver) staticRecord(origin *url.URL, rc *RequestContext, bv *BlockVersion, sp StaticPath, debug *DebugTrace) (*Record, error) {
	target, err := url.Parse(bv.BaseURI)
	if err != nil {
		return nil, lookupError(err, "base uri of block version %s", bv.VersionID)
	}

	target.Path = joinPath(target.Path, sp.Path)
	target.RawQuery = origin.RawQuery
	return &Record{
		Kind:         NodeBlock,
		OriginURI:    origin,
		TargetURI:    target,
		Headers:      make(http.Header),
		BlockVersion: bv,
		RoutePrefix:  RoutePrefix(projectOf(bv, rc), bv.VersionID),
		Metrics:      &Metrics{},
		Debug:        debug,
	}, nil
}

func (r *Resolver) injectIDs(n *Node) bool {
	if n == nil {
		return false
	}

	return r.cutoff.IsZero() || n.PublishedAt.IsZero() || !n.PublishedAt.After(r.cutoff)
}

func (r *Resolver) build(origin *url.URL, rc *RequestContext, node *Node, ep *Endpoint, debug *DebugTrace) (*Record, error) {
	rec := &Record{
		OriginURI:        origin,
		Headers:          make(http.Header),
		Node:             node,
		LayoutRendererID: ep.LayoutRendererID,
		ParseContent:     ep.ParseContent,
		CacheKeys:        ep.CacheKeys,
		Metrics:          &Metrics{},
		Debug:            debug,
	}

	switch ep.Kind {
	case ProxyEndpoint:
		target, err := url.Parse(ep.ProxyURI)
		if err != nil || target.Host == "" {
			return nil, lookupError(fmt.Errorf("invalid proxy uri: %q", ep.ProxyURI), "proxy %s", ep.ProxyID)
		}

		target.Path = joinPath(target.Path, origin.Path)
		target.RawQuery = origin.RawQuery
		rec.Kind = Proxy
		rec.TargetURI = target
		rec.ProxyID = ep.ProxyID
		rec.Host = ep.ProxyHost
	default:
		if ep.BlockVersion == nil {
			return nil, lookupError(errors.New("missing block version"), "endpoint of renderer %s", ep.RendererID)
		}

		bv := NewBlockVersion(*ep.BlockVersion)
		if r.blockVersions != nil {
			r.blockVersions.Put(bv)
		}

		target, err := url.Parse(bv.BaseURI)
		if err != nil || target.Host == "" {
			return nil, lookupError(fmt.Errorf("invalid base uri: %q", bv.BaseURI), "block version %s", bv.VersionID)
		}

		query := origin.Query()
		p := ep.Path
		if bv.FullURIRouting {
			p = origin.Path
		} else {
			query.Set(originPathParam, origin.Path)
		}

		if r.injectIDs(node) {
			if node.ID != "" {
				query.Set(nodeIDParam, node.ID)
			}

			if node.EntryID != "" {
				query.Set(entryIDParam, node.EntryID)
			}
		}

		target.Path = joinPath(target.Path, p)
		target.RawQuery = query.Encode()
		rec.Kind = NodeBlock
		rec.TargetURI = target
		rec.BlockVersion = bv
		rec.RoutePrefix = RoutePrefix(projectOf(bv, rc), bv.VersionID)
	}

	return rec, nil
}

// ResolveRenderer resolves the route of a renderer referenced by a pagelet
// or a layout of the content of parent.
func (r *Resolver) ResolveRenderer(ctx context.Context, rc *RequestContext, rendererID string, parent *Record) (*Record, error) {
	start := time.Now()
	debug := newDebug(rc, parent.Debug)
	q := RouteQuery{
		ProjectID:  rc.ProjectAPIID,
		RendererID: rendererID,
		Versions:   rc.Versions,
	}

	if parent.Node != nil {
		q.Language = parent.Node.Language
		q.ContentTypeID = parent.Node.ContentTypeID
	}

	ep, err := r.directory.Route(ctx, q)
	if errors.Is(err, ErrNotFound) {
		return finish(notFound(parent.OriginURI, debug), rendererID, start), nil
	}

	if err != nil {
		return nil, lookupError(err, "route for renderer %s in project %s", rendererID, q.ProjectID)
	}

	rec, err := r.build(parent.OriginURI, rc, parent.Node, ep, debug)
	if err != nil {
		return nil, err
	}

	return finish(rec, rendererID, start), nil
}

// ResolveFallback returns the route to the legacy IIS site, through the
// load balancer, or a NotFound record when the request context does not
// enable the fallback.
func (r *Resolver) ResolveFallback(origin *url.URL, rc *RequestContext) *Record {
	start := time.Now()
	debug := newDebug(rc, nil)
	if !rc.IISFallbackEnabled() {
		return finish(notFound(origin, debug), "", start)
	}

	target := &url.URL{
		Scheme:   "http",
		Host:     rc.LoadBalancerVIP,
		Path:     origin.Path,
		RawPath:  origin.RawPath,
		RawQuery: origin.RawQuery,
	}

	if target.Path == "" {
		target.Path = "/"
	}

	h := make(http.Header)
	h.Set(HeaderIsIISFallback, "true")
	h.Set(HeaderOrigHost, origin.Host)
	return finish(&Record{
		Kind:          IISFallback,
		OriginURI:     origin,
		TargetURI:     target,
		Host:          rc.IISHostname,
		Headers:       h,
		ParseContent:  true,
		IsIISFallback: true,
		Metrics:       &Metrics{},
		Debug:         debug,
	}, "", start)
}
