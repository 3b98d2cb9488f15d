package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	SurrogateControlHeader = "Surrogate-Control"
	SurrogateKeyHeader     = "Surrogate-Key"

	DebugDataHeader           = "Request-Handler-Debug-Data"
	InitialDebugDataHeader    = "Request-Handler-Initial-Debug-Data"
	AdditionalDebugDataHeader = "Request-Handler-Additional-Debug-Data"
	MetricsHeader             = "Request-Handler-Metrics"

	// fallback 404s of the home page are cached longer, they are the most
	// requested
	rootNotFoundMaxAge  = "max-age=30"
	otherNotFoundMaxAge = "max-age=5"
)

// setCacheHeaders sets the headers consumed by the caching layer in front
// of the request handler.
func setCacheHeaders(h http.Header, s *served, status int) {
	if s.rec == nil {
		return
	}

	if s.rec.IsIISFallback && status == http.StatusNotFound {
		if s.origin.Path == "" || s.origin.Path == "/" {
			h.Set(SurrogateControlHeader, rootNotFoundMaxAge)
		} else {
			h.Set(SurrogateControlHeader, otherNotFoundMaxAge)
		}
	}

	if len(s.rec.CacheKeys) > 0 {
		h.Set(SurrogateKeyHeader, strings.Join(s.rec.CacheKeys, " "))
	}
}

func setJSONHeader(h http.Header, name string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Errorf("Failed to encode the %s header: %v", name, err)
		return
	}

	h.Set(name, string(b))
}

// setDebugHeaders sets the diagnostic headers of requests with the debug
// flag.
func setDebugHeaders(h http.Header, s *served) {
	if !s.rc.Debug || s.rec == nil {
		return
	}

	if s.rec.Debug != nil {
		setJSONHeader(h, DebugDataHeader, s.rec.Debug.Entry)
		if children := s.rec.Debug.Children(); len(children) > 0 {
			setJSONHeader(h, AdditionalDebugDataHeader, children)
		}
	}

	if s.initial != nil && s.initial.Debug != nil {
		setJSONHeader(h, InitialDebugDataHeader, s.initial.Debug.Entry)
	}

	if s.rec.Metrics != nil {
		setJSONHeader(h, MetricsHeader, s.rec.Metrics)
	}
}
