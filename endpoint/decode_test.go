package endpoint

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeGzip(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte("zipped"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	for _, enc := range []string{"gzip", "x-gzip", " GZIP "} {
		b, err := decode(enc, buf.Bytes())
		require.NoError(t, err, enc)
		assert.Equal(t, "zipped", string(b))
	}
}

func TestDecodeIdentityAndUnsupported(t *testing.T) {
	b, err := decode("identity", []byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", string(b))

	_, err = decode("compress", []byte("x"))
	assert.EqualError(t, err, "unsupported content encoding: compress")

	_, err = decode("gzip", []byte("not gzip"))
	assert.Error(t, err)
}
