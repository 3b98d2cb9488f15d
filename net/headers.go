package net

import (
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// HopHeaders are the hop-by-hop headers of RFC 2616 section 13.5.1,
// in canonical form.
var HopHeaders = map[string]bool{
	"Te":                  true,
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// CopyHeaderExcluding copies the headers of from to to, except for the
// ones in exclude. Exclude keys must be canonical. Invalid header names and
// values are dropped.
func CopyHeaderExcluding(to, from http.Header, exclude map[string]bool) {
	for k, v := range from {
		// The http package converts header names to their canonical version.
		// Meaning that the lookup below will be done using the canonical version of the header.
		ck := http.CanonicalHeaderKey(k)
		if exclude[ck] || !httpguts.ValidHeaderFieldName(k) {
			continue
		}

		vv := make([]string, 0, len(v))
		for _, vi := range v {
			if httpguts.ValidHeaderFieldValue(vi) {
				vv = append(vv, vi)
			}
		}

		if len(vv) > 0 {
			to[ck] = append(to[ck], vv...)
		}
	}
}

// CloneHeaderExcluding returns a copy of h, without the excluded headers
// and without the headers named by the Connection header.
func CloneHeaderExcluding(h http.Header, exclude map[string]bool) http.Header {
	hh := make(http.Header, len(h))
	CopyHeaderExcluding(hh, h, exclude)
	RemoveConnectionHeaders(h, hh)
	return hh
}

// RemoveConnectionHeaders deletes from to the headers listed as tokens of
// the Connection header in from.
func RemoveConnectionHeaders(from, to http.Header) {
	for _, v := range from.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			token = strings.TrimSpace(token)
			if token == "" || !httpguts.HeaderValuesContainsToken(from["Connection"], token) {
				continue
			}

			to.Del(token)
		}
	}
}
