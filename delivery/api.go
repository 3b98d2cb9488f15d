package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
)

const (
	nodesPath         = "/api/delivery/projects/%s/nodes"
	routesPath        = "/api/publishing/request-handler/projects/%s/routes"
	blockVersionsPath = "/api/publishing/request-handler/projects/%s/blockversions/%s"
	ssoPath           = "/api/management/projects/%s/sso"

	proxyKind = "proxy"
)

func parse(uri string, b []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(b) {
		return gjson.Result{}, fmt.Errorf("%w from %s", ErrInvalidResponse, uri)
	}

	return gjson.ParseBytes(b), nil
}

func tenantHeader(rc *routing.RequestContext) http.Header {
	h := make(http.Header)
	if rc != nil && rc.Alias != "" {
		h.Set("X-Alias", rc.Alias)
	}

	return h
}

// LookupNode finds the node of path, or its closest ancestor, in the
// project of rc.
func (c *Client) LookupNode(ctx context.Context, rc *routing.RequestContext, p string) (*routing.Node, error) {
	q := url.Values{}
	q.Set("path", p)
	q.Set("allowPartialMatch", "true")
	if rc.EntryVersionStatus != "" {
		q.Set("versionStatus", rc.EntryVersionStatus)
	}

	uri := c.endpoint(q, nodesPath, rc.ProjectAPIID)
	b, err := c.get(ctx, uri, tenantHeader(rc))
	if err != nil {
		return nil, err
	}

	r, err := parse(uri, b)
	if err != nil {
		return nil, err
	}

	if !r.Get("id").Exists() {
		return nil, routing.ErrNotFound
	}

	return parseNode(r), nil
}

func parseNode(r gjson.Result) *routing.Node {
	n := &routing.Node{
		ID:            r.Get("id").String(),
		EntryID:       r.Get("entryId").String(),
		Path:          r.Get("path").String(),
		Language:      r.Get("language").String(),
		ContentTypeID: r.Get("contentTypeId").String(),
	}

	if t, err := time.Parse(time.RFC3339, r.Get("publishedAt").String()); err == nil {
		n.PublishedAt = t
	}

	if rr := r.Get("renderer"); rr.IsObject() && rr.Get("id").String() != "" {
		n.Renderer = &routing.RendererRef{
			ID:                 rr.Get("id").String(),
			UUID:               rr.Get("uuid").String(),
			IsPartialMatchRoot: rr.Get("isPartialMatchRoot").Bool(),
		}
	}

	if pr := r.Get("proxy"); pr.IsObject() && pr.Get("id").String() != "" {
		n.Proxy = &routing.ProxyRef{
			ID:                pr.Get("id").String(),
			AllowPartialMatch: pr.Get("allowPartialMatch").Bool(),
		}
	}

	return n
}

// Route returns the endpoint facts of a node or a renderer.
func (c *Client) Route(ctx context.Context, rq routing.RouteQuery) (*routing.Endpoint, error) {
	q := rq.Versions.Values()
	if q == nil {
		q = url.Values{}
	}

	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}

	set("contentTypeId", rq.ContentTypeID)
	set("rendererId", rq.RendererID)
	set("rendererUuid", rq.RendererUUID)
	set("proxyId", rq.ProxyID)
	set("language", rq.Language)
	q.Set("isPartialMatch", strconv.FormatBool(rq.PartialMatch))

	uri := c.endpoint(q, routesPath, rq.ProjectID)
	b, err := c.get(ctx, uri, nil)
	if err != nil {
		return nil, err
	}

	r, err := parse(uri, b)
	if err != nil {
		return nil, err
	}

	return parseEndpoint(uri, r)
}

func parseEndpoint(uri string, r gjson.Result) (*routing.Endpoint, error) {
	ep := &routing.Endpoint{
		Path:             r.Get("path").String(),
		ProxyID:          r.Get("proxyId").String(),
		ProxyURI:         r.Get("proxyUri").String(),
		ProxyHost:        r.Get("proxyHost").String(),
		RendererID:       r.Get("rendererId").String(),
		LayoutRendererID: r.Get("layoutRendererId").String(),
		ParseContent:     r.Get("parseContent").Bool(),
	}

	for _, k := range r.Get("cacheKeys").Array() {
		if s := k.String(); s != "" {
			ep.CacheKeys = append(ep.CacheKeys, s)
		}
	}

	if r.Get("kind").String() == proxyKind {
		ep.Kind = routing.ProxyEndpoint
		if ep.ProxyURI == "" {
			return nil, fmt.Errorf("%w from %s: proxy without uri", ErrInvalidResponse, uri)
		}

		return ep, nil
	}

	ep.Kind = routing.BlockEndpoint
	bv := r.Get("blockVersion")
	if !bv.IsObject() {
		return nil, fmt.Errorf("%w from %s: block without version", ErrInvalidResponse, uri)
	}

	var v routing.BlockVersion
	if err := json.Unmarshal([]byte(bv.Raw), &v); err != nil {
		return nil, fmt.Errorf("%w from %s: %v", ErrInvalidResponse, uri, err)
	}

	ep.BlockVersion = &v
	return ep, nil
}

// LoadBlockVersion returns a block version from the publishing service.
func (c *Client) LoadBlockVersion(ctx context.Context, projectID, versionID string) (*routing.BlockVersion, error) {
	uri := c.endpoint(nil, blockVersionsPath, projectID, versionID)
	b, err := c.get(ctx, uri, nil)
	if err != nil {
		return nil, err
	}

	if _, err := parse(uri, b); err != nil {
		return nil, err
	}

	var v routing.BlockVersion
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("%w from %s: %v", ErrInvalidResponse, uri, err)
	}

	if v.VersionID == "" {
		v.VersionID = versionID
	}

	return &v, nil
}

// SSOEnabled tells whether single sign-on is configured for the tenant.
// A tenant unknown to the management service has no single sign-on.
func (c *Client) SSOEnabled(ctx context.Context, alias string) (bool, error) {
	uri := c.endpoint(nil, ssoPath, alias)
	b, err := c.get(ctx, uri, nil)
	if err != nil {
		if errors.Is(err, routing.ErrNotFound) {
			return false, nil
		}

		return false, err
	}

	r, err := parse(uri, b)
	if err != nil {
		return false, err
	}

	return r.Get("enabled").Bool(), nil
}
