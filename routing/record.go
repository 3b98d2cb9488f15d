package routing

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Kind tells how a record is served.
type Kind int

const (
	NotFound Kind = iota
	NodeBlock
	Proxy
	DirectURL
	IISFallback
)

func (k Kind) String() string {
	switch k {
	case NodeBlock:
		return "block"
	case Proxy:
		return "proxy"
	case DirectURL:
		return "direct"
	case IISFallback:
		return "iis-fallback"
	default:
		return "not-found"
	}
}

// Record is the result of resolving one hop. It is created by the
// Resolver and not modified afterwards, except through Metrics and Debug.
type Record struct {
	Kind      Kind
	OriginURI *url.URL

	// TargetURI is nil if and only if Kind is NotFound.
	TargetURI *url.URL

	// Host overrides the Host header of the outgoing request.
	Host string

	// Headers are added to the outgoing request of this hop.
	Headers http.Header

	BlockVersion     *BlockVersion
	ProxyID          string
	LayoutRendererID string
	RoutePrefix      string
	ParseContent     bool
	IsIISFallback    bool
	CacheKeys        []string
	Node             *Node

	Metrics *Metrics
	Debug   *DebugTrace
}

func notFound(origin *url.URL, debug *DebugTrace) *Record {
	r := &Record{
		Kind:      NotFound,
		OriginURI: origin,
		Metrics:   &Metrics{},
	}

	if debug != nil {
		r.Debug = debug
		debug.Entry.Kind = NotFound.String()
	}

	return r
}

// Timing is a named duration.
type Timing struct {
	Name     string
	Duration time.Duration
}

// Metrics collects the timings of a hop. Safe for concurrent use.
type Metrics struct {
	mu      sync.Mutex
	timings []Timing
}

// Add appends a timing.
func (m *Metrics) Add(name string, d time.Duration) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings = append(m.timings, Timing{Name: name, Duration: d})
}

// List returns a copy of the collected timings.
func (m *Metrics) List() []Timing {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t := make([]Timing, len(m.timings))
	copy(t, m.timings)
	return t
}

// MarshalJSON renders the timings as an ordered list of name and
// milliseconds pairs.
func (m *Metrics) MarshalJSON() ([]byte, error) {
	type timing struct {
		Name string  `json:"name"`
		MS   float64 `json:"ms"`
	}

	timings := m.List()
	out := make([]timing, len(timings))
	for i, t := range timings {
		out[i] = timing{Name: t.Name, MS: float64(t.Duration) / float64(time.Millisecond)}
	}

	return json.Marshal(out)
}

// DebugEntry describes a resolved hop for diagnostics.
type DebugEntry struct {
	Kind             string `json:"kind"`
	OriginURI        string `json:"originUri,omitempty"`
	TargetURI        string `json:"targetUri,omitempty"`
	RendererID       string `json:"rendererId,omitempty"`
	LayoutRendererID string `json:"layoutRendererId,omitempty"`
	ProxyID          string `json:"proxyId,omitempty"`
	BlockID          string `json:"blockId,omitempty"`
	BlockVersionID   string `json:"blockVersionId,omitempty"`
	NodeID           string `json:"nodeId,omitempty"`
	RoutePrefix      string `json:"routePrefix,omitempty"`
}

// DebugTrace holds the diagnostics of a hop. Traces of nested hops link to
// their parent, and the root of a chain collects the entries of all its
// descendants.
type DebugTrace struct {
	Entry DebugEntry

	parent   *DebugTrace
	mu       sync.Mutex
	children []*DebugTrace
}

// NewDebugTrace creates a trace, and registers it with the root of parent,
// when parent is not nil.
func NewDebugTrace(parent *DebugTrace) *DebugTrace {
	t := &DebugTrace{parent: parent}
	if parent != nil {
		root := parent.Root()
		root.mu.Lock()
		root.children = append(root.children, t)
		root.mu.Unlock()
	}

	return t
}

// Parent returns the trace of the parent hop, or nil.
func (t *DebugTrace) Parent() *DebugTrace { return t.parent }

// Root returns the first trace of the chain.
func (t *DebugTrace) Root() *DebugTrace {
	r := t
	for r.parent != nil {
		r = r.parent
	}

	return r
}

// Children returns the entries of all descendants registered with this
// trace, in registration order.
func (t *DebugTrace) Children() []DebugEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]DebugEntry, len(t.children))
	for i, c := range t.children {
		entries[i] = c.Entry
	}

	return entries
}

func (t *DebugTrace) fill(r *Record, rendererID string) {
	if t == nil {
		return
	}

	t.Entry.Kind = r.Kind.String()
	t.Entry.RendererID = rendererID
	t.Entry.LayoutRendererID = r.LayoutRendererID
	t.Entry.ProxyID = r.ProxyID
	t.Entry.RoutePrefix = r.RoutePrefix
	if r.OriginURI != nil {
		t.Entry.OriginURI = r.OriginURI.String()
	}

	if r.TargetURI != nil {
		t.Entry.TargetURI = r.TargetURI.String()
	}

	if r.BlockVersion != nil {
		t.Entry.BlockID = r.BlockVersion.BlockID
		t.Entry.BlockVersionID = r.BlockVersion.VersionID
	}

	if r.Node != nil {
		t.Entry.NodeID = r.Node.ID
	}
}
