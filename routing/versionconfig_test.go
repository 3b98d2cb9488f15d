package routing

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionConfigPrecedence(t *testing.T) {
	h := http.Header{}
	h.Set("X-Block-Config-Default", "block-b1-versionstatus=published&block-b1-branch=main&block-b2-versionno=1.0")
	h.Set("X-Block-Config", "block-b1-versionstatus=latest")
	h.Set("X-Renderer-Config", "renderer-r1-versionstatus=latest&renderer-r1-branch=ignored")
	h.Set("X-Proxy-Config-Default", "proxy-p1-versionno=3")

	cookies := []*http.Cookie{
		{Name: "block-b1-branch", Value: "develop"},
		{Name: "unrelated", Value: "x"},
	}

	query := url.Values{"block-b1-branch": {"feature"}, "proxy-p1-versionno": {"4"}}

	c := ParseVersionConfig(h, cookies, query)
	assert.Equal(t, "latest", c.Pin(PinBlock, "b1", PinVersionStatus))
	assert.Equal(t, "feature", c.Pin(PinBlock, "b1", PinBranch))
	assert.Equal(t, "1.0", c.Pin(PinBlock, "b2", PinVersionNo))
	assert.Equal(t, "latest", c.Pin(PinRenderer, "r1", PinVersionStatus))
	assert.Empty(t, c.Pin(PinRenderer, "r1", PinBranch), "renderers cannot be pinned to a branch")
	assert.Equal(t, "4", c.Pin(PinProxy, "p1", PinVersionNo))
	assert.Equal(t, 5, c.Len())
}

func TestVersionConfigCookieOverridesHeader(t *testing.T) {
	h := http.Header{}
	h.Set("X-Block-Config", "block-b1-versionstatus=published")
	c := ParseVersionConfig(h, []*http.Cookie{{Name: "Block-B1-VersionStatus", Value: "latest"}}, nil)
	assert.Equal(t, "latest", c.Pin(PinBlock, "b1", PinVersionStatus))
}

func TestVersionConfigIDsWithDashes(t *testing.T) {
	h := http.Header{}
	h.Set("X-Block-Config", "block-3f25-04e0-versionno=12&malformed&=x&block--versionno=")
	c := ParseVersionConfig(h, nil, nil)
	assert.Equal(t, "12", c.Pin(PinBlock, "3f25-04e0", PinVersionNo))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, "block-3f25-04e0-versionno=12", c.String())
	assert.Equal(t, url.Values{"block-3f25-04e0-versionno": {"12"}}, c.Values())
}
