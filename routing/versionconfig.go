package routing

import (
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Scopes and attributes of version pins.
const (
	PinBlock    = "block"
	PinProxy    = "proxy"
	PinRenderer = "renderer"

	PinVersionStatus = "versionstatus"
	PinVersionNo     = "versionno"
	PinBranch        = "branch"
)

// Headers carrying version pin directives, the -default variants carry the
// defaults overridden by the active ones.
var VersionConfigHeaders = []string{
	"x-block-config",
	"x-proxy-config",
	"x-renderer-config",
}

var (
	blockPinRx = regexp.MustCompile(`^block-(.+)-(versionstatus|versionno|branch)$`)
	otherPinRx = regexp.MustCompile(`^(proxy|renderer)-(.+)-(versionstatus|versionno)$`)
)

// VersionConfig holds the version pins of a request, e.g.
// block-{id}-versionstatus=latest. Keys are lower case.
type VersionConfig struct {
	pins map[string]string
}

func pinKey(scope, id, attr string) string {
	return scope + "-" + strings.ToLower(id) + "-" + attr
}

func isPinKey(key string) bool {
	return blockPinRx.MatchString(key) || otherPinRx.MatchString(key)
}

// ParseVersionConfig merges the version pins found in the config headers,
// their -default variants, the cookies and the query string. Later sources
// override earlier ones: default headers, active headers, cookies, query.
func ParseVersionConfig(h http.Header, cookies []*http.Cookie, query url.Values) VersionConfig {
	c := VersionConfig{pins: make(map[string]string)}
	set := func(key, value string) {
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if value == "" || !isPinKey(key) {
			return
		}

		c.pins[key] = value
	}

	parseDirectives := func(header string) {
		for _, v := range h.Values(header) {
			for _, d := range strings.Split(v, "&") {
				key, value, ok := strings.Cut(d, "=")
				if !ok {
					continue
				}

				if uv, err := url.QueryUnescape(value); err == nil {
					value = uv
				}

				set(key, value)
			}
		}
	}

	for _, name := range VersionConfigHeaders {
		parseDirectives(name + "-default")
	}

	for _, name := range VersionConfigHeaders {
		parseDirectives(name)
	}

	for _, ck := range cookies {
		set(ck.Name, ck.Value)
	}

	for key, values := range query {
		if len(values) > 0 {
			set(key, values[len(values)-1])
		}
	}

	return c
}

// Pin returns the pinned value of an attribute, or "".
func (c VersionConfig) Pin(scope, id, attr string) string {
	return c.pins[pinKey(scope, id, attr)]
}

// Len returns the number of pins.
func (c VersionConfig) Len() int { return len(c.pins) }

// Values returns the pins as query values.
func (c VersionConfig) Values() url.Values {
	v := make(url.Values, len(c.pins))
	for key, value := range c.pins {
		v.Set(key, value)
	}

	return v
}

// String returns the pins in the directive format, sorted by key.
func (c VersionConfig) String() string {
	keys := make([]string, 0, len(c.pins))
	for k := range c.pins {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	for i, k := range keys {
		keys[i] = k + "=" + url.QueryEscape(c.pins[k])
	}

	return strings.Join(keys, "&")
}
