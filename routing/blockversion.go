package routing

import (
	"context"
	"strings"
	"time"
)

// DefaultStaticPath is part of the static paths of every block version.
const DefaultStaticPath = "/static"

// BlockVersion identifies a deployed version of a block. Values are not
// modified after NewBlockVersion returns them.
type BlockVersion struct {
	ProjectID      string    `json:"projectId"`
	BlockID        string    `json:"blockId"`
	VersionID      string    `json:"versionId"`
	BaseURI        string    `json:"baseUri"`
	Branch         string    `json:"branch,omitempty"`
	FullURIRouting bool      `json:"fullUriRouting,omitempty"`
	PushedAt       time.Time `json:"pushedAt,omitzero"`
	StaticPaths    []string  `json:"staticPaths,omitempty"`
	VersionNo      string    `json:"versionNo,omitempty"`
}

// NewBlockVersion returns a copy of v with the default static path added
// to its static paths, unless they already contain it.
func NewBlockVersion(v BlockVersion) *BlockVersion {
	paths := make([]string, 0, len(v.StaticPaths)+1)
	var hasDefault bool
	for _, p := range v.StaticPaths {
		if p == "" {
			continue
		}

		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}

		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}

		hasDefault = hasDefault || p == DefaultStaticPath
		paths = append(paths, p)
	}

	if !hasDefault {
		paths = append(paths, DefaultStaticPath)
	}

	v.StaticPaths = paths
	v.BaseURI = strings.TrimSuffix(v.BaseURI, "/")
	return &v
}

// BlockVersionStore provides block versions by version id.
type BlockVersionStore interface {
	Get(ctx context.Context, projectID, versionID string) (*BlockVersion, error)
	Put(*BlockVersion)
}
