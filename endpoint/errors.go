package endpoint

import (
	"fmt"

	"github.com/contensis/request-handler-localdevelopment-sub000/routing"
)

// MaxDepth is the deepest allowed nesting of endpoint calls. The call of
// the inbound request is at depth 0.
const MaxDepth = 9

// RecursionError is returned when a call is made deeper than MaxDepth.
type RecursionError struct {
	Endpoint string
	Path     string
	Depth    int
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("maximum depth of %d exceeded at depth %d, calling %s for %s", MaxDepth, e.Depth, e.Endpoint, e.Path)
}

// EndpointError tells that a nested endpoint call returned an unsuccessful
// status.
type EndpointError struct {
	Record   *routing.Record
	Response *Response
}

func (e *EndpointError) Error() string {
	target := "<none>"
	if e.Record != nil && e.Record.TargetURI != nil {
		target = e.Record.TargetURI.String()
	}

	status := 0
	if e.Response != nil {
		status = e.Response.StatusCode
	}

	return fmt.Sprintf("endpoint %s responded with status %d", target, status)
}
