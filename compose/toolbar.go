package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
)

const (
	generatorMeta = `<meta name="generator" content="Contensis Request Handler" />`

	// DefaultToolbarScriptURL is used when no other location is configured.
	DefaultToolbarScriptURL = "/contensis-preview-toolbar/toolbar.js"
)

// SSOChecker reports whether single sign-on is available for a tenant.
type SSOChecker interface {
	SSOEnabled(ctx context.Context, alias string) (bool, error)
}

type toolbarConfig struct {
	Alias         string `json:"alias"`
	ProjectID     string `json:"projectId"`
	VersionStatus string `json:"versionStatus"`
	SSO           bool   `json:"sso"`
}

// insertBeforeLast inserts s before the last occurrence of the closing tag,
// matched case-insensitively. It reports false when the tag is missing.
func insertBeforeLast(text, closing, s string) (string, bool) {
	i := lastIndexFold(text, closing)
	if i < 0 {
		return text, false
	}

	return text[:i] + s + text[i:], true
}

func lastIndexFold(s, sub string) int {
	for i := len(s) - len(sub); i >= 0; i-- {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}

	return -1
}

func injectGenerator(text string) string {
	text, _ = insertBeforeLast(text, "</head>", generatorMeta)
	return text
}

func toolbarScript(scriptURL string, c toolbarConfig) (string, error) {
	// json.Marshal escapes <, > and &, the result is safe inside a script
	// element
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		`<script>window.ContensisPreviewToolbar = %s;</script><script src="%s" defer></script>`,
		b,
		scriptURL,
	), nil
}

func (e *Engine) injectToolbar(ctx context.Context, rc *routing.RequestContext, text string) string {
	if rc == nil || rc.SiteType == routing.Live || rc.HideToolbar {
		return text
	}

	if lastIndexFold(text, "</body>") < 0 {
		return text
	}

	status := rc.EntryVersionStatus
	if status == "" {
		status = routing.VersionStatusLatest
	}

	var sso bool
	if e.sso != nil && rc.Alias != "" {
		var err error
		sso, err = e.sso.SSOEnabled(ctx, rc.Alias)
		if err != nil {
			log.WithField("alias", rc.Alias).Debugf("failed to check single sign-on: %v", err)
		}
	}

	script, err := toolbarScript(e.toolbarScriptURL, toolbarConfig{
		Alias:         rc.Alias,
		ProjectID:     rc.ProjectAPIID,
		VersionStatus: status,
		SSO:           sso,
	})
	if err != nil {
		log.Errorf("failed to render the preview toolbar: %v", err)
		return text
	}

	text, _ = insertBeforeLast(text, "</body>", script)
	return text
}
