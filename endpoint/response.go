package endpoint

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Response is the result of an endpoint call. Either Body or Stream is
// set, never both.
type Response struct {
	StatusCode int
	Header     http.Header

	// Body is the buffered and decoded response body.
	Body string

	// Stream is the unread body of responses that are passed through.
	// The caller must close it, see Close.
	Stream io.ReadCloser

	// Trace is the performance trace reported by the origin.
	Trace json.RawMessage

	// Synthetic is set when the response was created without calling
	// the origin.
	Synthetic bool

	// Canceled is set when the call was abandoned because the inbound
	// request was canceled.
	Canceled bool

	statusOverwritten bool
}

func synthetic(code int) *Response {
	return &Response{
		StatusCode: code,
		Header:     make(http.Header),
		Synthetic:  true,
	}
}

// Success tells whether the status code is 2xx.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// NotFoundIfEmpty turns an empty 200 response into a 404. The status of a
// response is overwritten at most once. It reports whether the status was
// changed.
func (r *Response) NotFoundIfEmpty() bool {
	if r.statusOverwritten || r.StatusCode != http.StatusOK || r.Stream != nil || r.Body != "" {
		return false
	}

	r.StatusCode = http.StatusNotFound
	r.statusOverwritten = true
	return true
}

// ContentType returns the media type of the response, lower case and
// without parameters.
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}

	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	}

	return mt
}

// IsHTML tells whether the response is a buffered HTML document.
func (r *Response) IsHTML() bool {
	if r.Stream != nil {
		return false
	}

	ct := r.ContentType()
	return ct == "" || ct == "text/html" || ct == "application/xhtml+xml"
}

// Close closes the stream of the response, if any.
func (r *Response) Close() error {
	if r.Stream == nil {
		return nil
	}

	return r.Stream.Close()
}
