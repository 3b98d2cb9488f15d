package routing

import (
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SiteType is the kind of site a request is made for.
type SiteType int

const (
	Preview SiteType = iota
	Live
	Staging
)

func (t SiteType) String() string {
	switch t {
	case Live:
		return "live"
	case Staging:
		return "staging"
	default:
		return "preview"
	}
}

// ParseSiteType maps the x-site-type header values. Unknown values, and the
// historical "test", map to Preview.
func ParseSiteType(s string) SiteType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live":
		return Live
	case "staging":
		return Staging
	default:
		return Preview
	}
}

// Accepted entry version status values.
const (
	VersionStatusPublished = "published"
	VersionStatusLatest    = "latest"
)

// Request headers read into the request context.
const (
	HeaderAlias              = "x-alias"
	HeaderProjectAPIID       = "x-project-api-id"
	HeaderProjectUUID        = "x-project-uuid"
	HeaderSiteType           = "x-site-type"
	HeaderEntryVersionStatus = "x-entry-versionstatus"
	HeaderIISHostname        = "x-iis-hostname"
	HeaderLoadBalancerVIP    = "x-loadbalancer-vip"
	HeaderHealthCheck        = "x-healthcheck"
	HeaderHideToolbar        = "x-hide-toolbar"
	HeaderDebug              = "debug"
	HeaderXDebug             = "x-debug"
	HeaderIsIISFallback      = "x-is-iis-fallback"
	HeaderOrigHost           = "x-orig-host"
)

// RequestContext holds the facts of an incoming request that are needed by
// every nested resolution. It is created once per request by
// NewRequestContext and must not be modified afterwards.
type RequestContext struct {
	Alias        string
	ProjectAPIID string
	ProjectUUID  string

	SiteType SiteType

	// EntryVersionStatus is either "published", "latest" or empty.
	EntryVersionStatus string

	IISHostname     string
	LoadBalancerVIP string

	Debug       bool
	HideToolbar bool

	Versions VersionConfig

	// ConfigHeaders holds the raw version config headers, for logging.
	ConfigHeaders map[string]string
}

// IsHealthCheck reports whether h carries the health check header. The
// header marks the request whatever its value, even an empty one.
func IsHealthCheck(h http.Header) bool {
	return h.Values(HeaderHealthCheck) != nil
}

func headerFlag(h http.Header, name string) bool {
	v, ok := h[http.CanonicalHeaderKey(name)]
	if !ok {
		return false
	}

	if len(v) == 0 {
		return true
	}

	switch strings.ToLower(strings.TrimSpace(v[0])) {
	case "false", "0", "no", "off":
		return false
	default:
		return true
	}
}

// NewRequestContext reads the request context from the headers, cookies
// and query string of r.
func NewRequestContext(r *http.Request) *RequestContext {
	h := r.Header
	rc := &RequestContext{
		Alias:           strings.TrimSpace(h.Get(HeaderAlias)),
		ProjectAPIID:    strings.TrimSpace(h.Get(HeaderProjectAPIID)),
		ProjectUUID:     strings.TrimSpace(h.Get(HeaderProjectUUID)),
		SiteType:        ParseSiteType(h.Get(HeaderSiteType)),
		IISHostname:     strings.TrimSpace(h.Get(HeaderIISHostname)),
		LoadBalancerVIP: strings.TrimSpace(h.Get(HeaderLoadBalancerVIP)),
		Debug:           headerFlag(h, HeaderDebug) || headerFlag(h, HeaderXDebug),
		HideToolbar:     headerFlag(h, HeaderHideToolbar),
		Versions:        ParseVersionConfig(h, r.Cookies(), r.URL.Query()),
		ConfigHeaders:   make(map[string]string),
	}

	switch s := h.Get(HeaderEntryVersionStatus); s {
	case VersionStatusPublished, VersionStatusLatest:
		rc.EntryVersionStatus = s
	}

	for _, name := range VersionConfigHeaders {
		for _, n := range []string{name, name + "-default"} {
			if v := h.Get(n); v != "" {
				rc.ConfigHeaders[n] = v
			}
		}
	}

	return rc
}

// IISFallbackEnabled tells whether both the IIS host name and the load
// balancer address are known.
func (rc *RequestContext) IISFallbackEnabled() bool {
	return rc.IISHostname != "" && rc.LoadBalancerVIP != ""
}

// Fields returns the log fields identifying the tenant.
func (rc *RequestContext) Fields() log.Fields {
	f := log.Fields{
		"alias":     rc.Alias,
		"projectId": rc.ProjectAPIID,
		"siteType":  rc.SiteType.String(),
	}

	for k, v := range rc.ConfigHeaders {
		f[k] = v
	}

	return f
}
