package logging

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// ServeFunc is called after every served request, with the access entry
// of the request.
type ServeFunc func(*AccessEntry)

type handler struct {
	next   http.Handler
	served ServeFunc
}

type accessEntryKey struct{}

type pendingEntry struct {
	mu    sync.Mutex
	entry AccessEntry
}

func pending(ctx context.Context) *pendingEntry {
	p, _ := ctx.Value(accessEntryKey{}).(*pendingEntry)
	return p
}

// SetRequestInfo sets the request id and the tenant of the access entry of
// the request served with ctx. It does nothing outside of a handler
// created with NewHandler.
func SetRequestInfo(ctx context.Context, requestID, alias, projectID string) {
	p := pending(ctx)
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry.RequestID = requestID
	p.entry.Alias = alias
	p.entry.ProjectID = projectID
}

// SetRouteKind sets the route kind of the access entry of the request
// served with ctx.
func SetRouteKind(ctx context.Context, kind string) {
	p := pending(ctx)
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry.RouteKind = kind
}

// NewHandler wraps next, and writes an access log entry for every
// request. When served is not nil, it is called with each entry.
func NewHandler(next http.Handler, served ServeFunc) http.Handler {
	return &handler{next: next, served: served}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	lw := &loggingWriter{writer: w}
	p := &pendingEntry{}
	h.next.ServeHTTP(lw, r.WithContext(context.WithValue(r.Context(), accessEntryKey{}, p)))

	if lw.code == 0 {
		lw.code = http.StatusOK
	}

	p.mu.Lock()
	entry := p.entry
	p.mu.Unlock()

	entry.Request = r
	entry.StatusCode = lw.code
	entry.ResponseSize = lw.bytes
	entry.Duration = time.Since(now)
	entry.RequestTime = now

	LogAccess(&entry)
	if h.served != nil {
		h.served(&entry)
	}
}
