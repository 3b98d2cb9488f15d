package routing

import (
	"encoding/base32"
	"encoding/binary"
	"net/url"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	prefixEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
	staticPathRx   = regexp.MustCompile(`^/_([a-z2-7]{13})_([^/]+)(/.*)$`)
)

// ProjectHash returns the lower case, unpadded base32 encoding of the xxhash
// of the project id.
func ProjectHash(projectID string) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], xxhash.Sum64String(projectID))
	return strings.ToLower(prefixEncoding.EncodeToString(b[:]))
}

// RoutePrefix returns the token used to namespace the static paths of a
// block version, "_{hash of the project id}_{version id}". The result
// depends only on its arguments.
func RoutePrefix(projectID, versionID string) string {
	return "_" + ProjectHash(projectID) + "_" + url.PathEscape(versionID)
}

// StaticPath is a request path that was rewritten with a route prefix.
type StaticPath struct {
	ProjectHash string
	VersionID   string

	// Path is the original path, without the route prefix.
	Path string
}

// ParseStaticPath parses a path starting with a route prefix.
func ParseStaticPath(path string) (StaticPath, bool) {
	m := staticPathRx.FindStringSubmatch(path)
	if m == nil {
		return StaticPath{}, false
	}

	v, err := url.PathUnescape(m[2])
	if err != nil || v == "" {
		return StaticPath{}, false
	}

	return StaticPath{ProjectHash: m[1], VersionID: v, Path: m[3]}, true
}

// Matches tells whether the path was rewritten for a block version of the
// given project.
func (p StaticPath) Matches(projectID string) bool {
	return p.ProjectHash == ProjectHash(projectID)
}
