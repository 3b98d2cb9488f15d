package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/contensis/request-handler-localdevelopment-sub000/endpoint"
	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
)

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Status}} {{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
<dl>
<dt>Path</dt><dd>{{.Path}}</dd>
{{- if .Alias}}
<dt>Alias</dt><dd>{{.Alias}}</dd>
{{- end}}
{{- if .Project}}
<dt>Project</dt><dd>{{.Project}}</dd>
{{- end}}
{{- if .Route}}
<dt>Route</dt><dd>{{.Route}}</dd>
{{- end}}
<dt>Request</dt><dd>{{.RequestID}}</dd>
</dl>
</body>
</html>
`))

type errorPage struct {
	Status    int
	Title     string
	Message   string
	Path      string
	Alias     string
	Project   string
	Route     string
	RequestID string
}

var errorMessages = map[int]string{
	http.StatusNotFound:            "The page you requested could not be found.",
	http.StatusInternalServerError: "The page could not be rendered because of an error.",
	http.StatusServiceUnavailable:  "The site is temporarily unavailable, please try again later.",
}

// friendlyStatus tells whether responses with the status are replaced by
// an error page on the non-live sites.
func friendlyStatus(code int) bool {
	_, ok := errorMessages[code]
	return ok
}

type errorMessage struct {
	Message string `json:"message"`
}

// isStructured tells whether every error combined in err is a failure of
// an origin called by the composition.
func isStructured(err error) bool {
	for _, e := range multierr.Errors(err) {
		var eerr *endpoint.EndpointError
		var rerr *endpoint.RecursionError
		if !errors.As(e, &eerr) && !errors.As(e, &rerr) {
			return false
		}
	}

	return true
}

func (h *Handler) compositionErrors(w http.ResponseWriter, s *served, err error) int {
	errs := multierr.Errors(err)
	messages := make([]errorMessage, len(errs))
	for i, e := range errs {
		messages[i] = errorMessage{Message: e.Error()}
	}

	log.WithFields(s.rc.Fields()).WithField("url", s.origin.String()).Warnf("Composition failed: %v", err)

	b, jerr := json.Marshal(messages)
	if jerr != nil {
		log.Errorf("Failed to encode the composition errors: %v", jerr)
		return h.plainError(w, http.StatusInternalServerError)
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Content-Length", strconv.Itoa(len(b)))
	setDebugHeaders(hdr, s)
	w.WriteHeader(http.StatusInternalServerError)
	w.Write(b)
	return http.StatusInternalServerError
}

// fault handles the errors not caused by an origin. They are logged with
// the tenant and the version config of the request.
func (h *Handler) fault(w http.ResponseWriter, r *http.Request, s *served, err error) int {
	l := log.WithFields(s.rc.Fields()).WithField("url", s.origin.String())
	var lerr *routing.LookupError
	if errors.As(err, &lerr) {
		l = l.WithField("lookup", lerr.Request)
	}

	l.Errorf("Failed to serve the request: %v", err)
	if s.rc.SiteType != routing.Live {
		return h.errorPage(w, r, s, http.StatusInternalServerError)
	}

	return h.plainError(w, http.StatusInternalServerError)
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request, s *served) int {
	if s.rc.SiteType != routing.Live {
		return h.errorPage(w, r, s, http.StatusNotFound)
	}

	setCacheHeaders(w.Header(), s, http.StatusNotFound)
	setDebugHeaders(w.Header(), s)
	return h.plainError(w, http.StatusNotFound)
}

func (h *Handler) plainError(w http.ResponseWriter, code int) int {
	http.Error(w, http.StatusText(code), code)
	return code
}

func (h *Handler) errorPage(w http.ResponseWriter, r *http.Request, s *served, code int) int {
	page := errorPage{
		Status:    code,
		Title:     http.StatusText(code),
		Message:   errorMessages[code],
		Path:      r.URL.Path,
		Alias:     s.rc.Alias,
		Project:   s.rc.ProjectAPIID,
		RequestID: s.id,
	}

	if s.rec != nil {
		page.Route = s.rec.Kind.String()
	}

	var b bytes.Buffer
	if err := errorPageTemplate.Execute(&b, page); err != nil {
		log.Errorf("Failed to render the error page: %v", err)
		return h.plainError(w, code)
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/html; charset=utf-8")
	hdr.Set("Content-Length", strconv.Itoa(b.Len()))
	setCacheHeaders(hdr, s, code)
	setDebugHeaders(hdr, s)
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		w.Write(b.Bytes())
	}

	return code
}
