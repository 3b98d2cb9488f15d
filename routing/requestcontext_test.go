package routing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSiteType(t *testing.T) {
	for in, expect := range map[string]SiteType{
		"live":    Live,
		"LIVE":    Live,
		"Staging": Staging,
		"preview": Preview,
		"test":    Preview,
		"":        Preview,
		"foo":     Preview,
	} {
		assert.Equal(t, expect, ParseSiteType(in), in)
	}
}

func TestNewRequestContext(t *testing.T) {
	r := httptest.NewRequest("GET", "http://www.example.org/page?block-b1-branch=feature", nil)
	r.Header.Set("X-Alias", "zenhub")
	r.Header.Set("X-Project-Api-Id", "website")
	r.Header.Set("X-Project-Uuid", "4f2b")
	r.Header.Set("X-Site-Type", "live")
	r.Header.Set("X-Entry-Versionstatus", "latest")
	r.Header.Set("X-Iis-Hostname", "legacy.example.org")
	r.Header.Set("X-Debug", "true")
	r.Header.Set("X-Block-Config", "block-b1-versionstatus=published")

	rc := NewRequestContext(r)
	assert.Equal(t, "zenhub", rc.Alias)
	assert.Equal(t, "website", rc.ProjectAPIID)
	assert.Equal(t, "4f2b", rc.ProjectUUID)
	assert.Equal(t, Live, rc.SiteType)
	assert.Equal(t, VersionStatusLatest, rc.EntryVersionStatus)
	assert.True(t, rc.Debug)
	assert.False(t, IsHealthCheck(r.Header))
	assert.False(t, rc.IISFallbackEnabled(), "requires both the host name and the vip")
	assert.Equal(t, "published", rc.Versions.Pin(PinBlock, "b1", PinVersionStatus))
	assert.Equal(t, "feature", rc.Versions.Pin(PinBlock, "b1", PinBranch))
	assert.Equal(t, map[string]string{"x-block-config": "block-b1-versionstatus=published"}, rc.ConfigHeaders)

	r.Header.Set("X-Loadbalancer-Vip", "10.0.0.1")
	assert.True(t, NewRequestContext(r).IISFallbackEnabled())
}

func TestEntryVersionStatusAcceptsOnlyKnownValues(t *testing.T) {
	for _, v := range []string{"draft", "Published", "", "latest "} {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Entry-Versionstatus", v)
		assert.Empty(t, NewRequestContext(r).EntryVersionStatus, v)
	}
}

func TestHeaderFlags(t *testing.T) {
	for _, tt := range []struct {
		value  string
		expect bool
	}{
		{"true", true},
		{"1", true},
		{"", true},
		{"false", false},
		{"0", false},
	} {
		h := http.Header{}
		h.Set("Debug", tt.value)
		assert.Equal(t, tt.expect, headerFlag(h, HeaderDebug), tt.value)
	}

	assert.False(t, headerFlag(http.Header{}, HeaderDebug))
}

func TestIsHealthCheck(t *testing.T) {
	for _, value := range []string{"", "true", "false", "0"} {
		h := http.Header{}
		h.Set("X-Healthcheck", value)
		assert.True(t, IsHealthCheck(h), "any value marks a health check: %q", value)
	}

	assert.False(t, IsHealthCheck(http.Header{}))
	assert.False(t, IsHealthCheck(http.Header{"Debug": {"true"}}))
}
