package compose

import (
	"sort"
	"strings"
)

const jsonSlash = `\u002F`

// RewriteStaticPaths prefixes the references to the static paths of a block
// version with the route prefix, so that "/static/a.css" becomes
// "/{routePrefix}/static/a.css". The same substitution is applied to the
// variant where slashes are JSON escaped as \u002F. All occurrences are
// replaced in a single pass, replaced text is never rewritten again.
func RewriteStaticPaths(text, routePrefix string, staticPaths []string) string {
	if routePrefix == "" || len(staticPaths) == 0 {
		return text
	}

	var paths []string
	seen := make(map[string]bool)
	for _, p := range staticPaths {
		p = strings.Trim(p, "/")
		if p == "" || seen[p] {
			continue
		}

		seen[p] = true
		paths = append(paths, p)
	}

	// longer paths first, so that a nested static path wins over its parent
	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) > len(paths[j])
		}

		return paths[i] < paths[j]
	})

	var pairs []string
	for _, p := range paths {
		plain := "/" + p + "/"
		pairs = append(pairs, plain, "/"+routePrefix+plain)

		escaped := strings.ReplaceAll(plain, "/", jsonSlash)
		pairs = append(pairs, escaped, jsonSlash+routePrefix+escaped)
	}

	if len(pairs) == 0 {
		return text
	}

	return strings.NewReplacer(pairs...).Replace(text)
}
