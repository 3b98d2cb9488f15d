package routing

import (
	"context"
	"time"
)

// RendererRef is the renderer assigned to a node.
type RendererRef struct {
	ID   string
	UUID string

	// IsPartialMatchRoot allows the renderer to serve the descendant paths
	// of its node.
	IsPartialMatchRoot bool
}

// ProxyRef is the proxy assigned to a node.
type ProxyRef struct {
	ID                string
	AllowPartialMatch bool
}

// Node is an entry of the content tree.
type Node struct {
	ID            string
	EntryID       string
	Path          string
	Language      string
	ContentTypeID string
	PublishedAt   time.Time
	Renderer      *RendererRef
	Proxy         *ProxyRef
}

// NodeLookup finds the node for a path. When no node matches the path
// exactly, the closest ancestor may be returned. It returns ErrNotFound
// when nothing matches.
type NodeLookup interface {
	LookupNode(ctx context.Context, rc *RequestContext, path string) (*Node, error)
}

// RouteQuery is sent to the directory to get the endpoint facts of a node
// or of a renderer.
type RouteQuery struct {
	ProjectID     string
	ContentTypeID string
	RendererID    string
	RendererUUID  string
	ProxyID       string
	Language      string
	PartialMatch  bool
	Versions      VersionConfig
}

// EndpointKind tells whether endpoint facts point to a block or a proxy.
type EndpointKind int

const (
	BlockEndpoint EndpointKind = iota
	ProxyEndpoint
)

// Endpoint holds the facts returned by the directory for a route query.
type Endpoint struct {
	Kind EndpointKind

	// BlockVersion is set for block endpoints.
	BlockVersion *BlockVersion

	// Path is the path of the endpoint, relative to the block version base
	// URI.
	Path string

	ProxyID string

	// ProxyURI is the base URI of a proxy endpoint.
	ProxyURI string

	// ProxyHost overrides the Host header sent to a proxy.
	ProxyHost string

	RendererID       string
	LayoutRendererID string
	ParseContent     bool
	CacheKeys        []string
}

// Directory provides the endpoint facts for routes. It returns ErrNotFound
// when no endpoint exists for the query.
type Directory interface {
	Route(ctx context.Context, q RouteQuery) (*Endpoint, error)
}
