package endpoint

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

type unsupportedEncodingError string

func (e unsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported content encoding: %s", string(e))
}

// decode decodes a body of the given content encoding. Identity bodies
// are returned unchanged.
func decode(encoding string, b []byte) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return b, nil
	case "gzip", "x-gzip":
		r, err = gzip.NewReader(bytes.NewReader(b))
	case "deflate":
		// deflate is commonly sent both with and without the zlib wrapper
		if d, err := readAll(zlib.NewReader(bytes.NewReader(b))); err == nil {
			return d, nil
		}

		r = flate.NewReader(bytes.NewReader(b))
	case "br":
		r = brotli.NewReader(bytes.NewReader(b))
	default:
		return nil, unsupportedEncodingError(encoding)
	}

	if err != nil {
		return nil, err
	}

	return io.ReadAll(r)
}

func readAll(r io.ReadCloser, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}

	defer r.Close()
	return io.ReadAll(r)
}
