package net

import "io"

const streamBufferSize = 8192

type flusher interface {
	Flush()
}

// CopyStream copies from to to, flushing after every successful read when
// to supports it.
func CopyStream(to io.Writer, from io.Reader) (int64, error) {
	f, _ := to.(flusher)

	b := make([]byte, streamBufferSize)
	var n int64
	for {
		l, rerr := from.Read(b)
		if rerr != nil && rerr != io.EOF {
			return n, rerr
		}

		if l > 0 {
			w, werr := to.Write(b[:l])
			n += int64(w)
			if werr != nil {
				return n, werr
			}

			if f != nil {
				f.Flush()
			}
		}

		if rerr == io.EOF {
			return n, nil
		}
	}
}
