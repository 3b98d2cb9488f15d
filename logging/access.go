package logging

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const dateFormat = "02/Jan/2006:15:04:05 -0700"

// remote [date] "method uri proto" status size duration requested-host request-id alias route-kind
const accessLineFormat = `%s [%s] "%s %s %s" %d %d %dms %s %s %s %s` + "\n"

var accessLineKeys = []string{
	"host", "timestamp", "method", "uri", "proto",
	"status", "response-size", "duration",
	"requested-host", "request-id", "alias", "route-kind",
}

type accessLineFormatter struct{}

// AccessEntry is the access log entry of a request served by the gateway.
type AccessEntry struct {
	Request      *http.Request
	StatusCode   int
	ResponseSize int64
	Duration     time.Duration
	RequestTime  time.Time

	// RequestID is the value of the request id header, or the generated
	// one when the client did not send it.
	RequestID string

	// Alias and ProjectID identify the tenant of the requested host.
	Alias     string
	ProjectID string

	// RouteKind is the kind of the resolved route, empty when the
	// request failed before resolution.
	RouteKind string
}

var accessLog *logrus.Logger

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

// remoteHost is the client address without the port, taken from
// X-Forwarded-For when set.
func remoteHost(r *http.Request) string {
	a := r.Header.Get("X-Forwarded-For")
	if a == "" {
		a = r.RemoteAddr
	}

	if h, _, err := net.SplitHostPort(a); err == nil {
		a = h
	}

	return orDash(a)
}

func (accessLineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	values := make([]any, len(accessLineKeys))
	for i, key := range accessLineKeys {
		values[i] = e.Data[key]
	}

	return fmt.Appendf(nil, accessLineFormat, values...), nil
}

func (e *AccessEntry) fields() logrus.Fields {
	f := logrus.Fields{
		"timestamp":     e.RequestTime.Format(dateFormat),
		"host":          "-",
		"method":        "",
		"uri":           "",
		"proto":         "",
		"status":        e.StatusCode,
		"response-size": e.ResponseSize,
		"duration":      e.Duration.Milliseconds(),
		"request-id":    orDash(e.RequestID),
		"alias":         orDash(e.Alias),
		"route-kind":    orDash(e.RouteKind),
	}

	if e.ProjectID != "" {
		f["project-id"] = e.ProjectID
	}

	requestedHost := "-"
	if r := e.Request; r != nil {
		f["host"] = remoteHost(r)
		f["method"] = r.Method
		f["uri"] = r.RequestURI
		f["proto"] = r.Proto
		requestedHost = orDash(r.Host)
		if ua := r.UserAgent(); ua != "" {
			f["user-agent"] = ua
		}
	}

	f["requested-host"] = requestedHost
	return f
}

// LogAccess writes entry to the access log, as a single line or as JSON.
// The user agent and the project id appear only in the JSON form.
func LogAccess(entry *AccessEntry) {
	if accessLog == nil || entry == nil {
		return
	}

	accessLog.WithFields(entry.fields()).Infoln()
}
