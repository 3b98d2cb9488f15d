package routing

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by the collaborators when the requested node,
// route or block version does not exist.
var ErrNotFound = errors.New("not found")

// LookupError is returned when a collaborator fails for a reason other than
// not found. Request describes the attempted lookup.
type LookupError struct {
	Request string
	Err     error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup failed, %s: %v", e.Request, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

func lookupError(err error, format string, args ...any) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}

	var le *LookupError
	if errors.As(err, &le) {
		return err
	}

	return &LookupError{Request: fmt.Sprintf(format, args...), Err: err}
}
