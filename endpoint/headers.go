package endpoint

import (
	"net/http"
	"strings"

	"github.com/contensis/request-handler-localdevelopment-sub000/net"
)

// deniedHeaders are never forwarded to an origin, in canonical form.
var deniedHeaders = map[string]bool{
	"Host":                      true,
	"Accept-Encoding":           true,
	"Version":                   true,
	"Branch":                    true,
	"Traceparent":               true,
	"X-Forwarded-Proto":         true,
	"X-Requires-Depends":        true,
	"X-Ssl":                     true,
	"X-Internal-Host":           true,
	"Use-App-Servers":           true,
	"Contensis-Classic-Version": true,
	"X-Site-Type":               true,
	"X-Iis-Hostname":            true,
	"X-Loadbalancer-Vip":        true,
	"X-Project-Uuid":            true,
	"X-Project-Api-Id":          true,
}

// deniedPrefixes are matched against canonical header names.
var deniedPrefixes = []string{
	"X-Varnish",
	"X-Block-Config",
	"X-Renderer-Config",
	"X-Proxy-Config",
}

func init() {
	for k := range net.HopHeaders {
		deniedHeaders[k] = true
	}
}

func denied(canonicalKey string) bool {
	if deniedHeaders[canonicalKey] {
		return true
	}

	for _, p := range deniedPrefixes {
		if strings.HasPrefix(canonicalKey, p) {
			return true
		}
	}

	return false
}

// outgoingHeaders returns the inbound headers that may be forwarded,
// overlaid with the headers of the route.
func outgoingHeaders(inbound, route http.Header) http.Header {
	h := net.CloneHeaderExcluding(inbound, deniedHeaders)
	for k := range h {
		if denied(k) {
			delete(h, k)
		}
	}

	for k, v := range route {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}

	return h
}
