package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	payload := strings.Repeat("id,name\n42,speed\n", 500)

	for _, alg := range []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2} {
		t.Run(string(alg), func(t *testing.T) {
			codec, err := NewCodec(alg)
			require.NoError(t, err)

			var buf bytes.Buffer
			w, err := codec.WrapWriter(&buf)
			require.NoError(t, err)
			_, err = io.WriteString(w, payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := codec.WrapReader(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			back, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())

			assert.Equal(t, payload, string(back))
			if alg != None {
				assert.Less(t, buf.Len(), len(payload), "repetitive payload should shrink")
			}
		})
	}
}

func TestNewCodecDefaultsToSnappy(t *testing.T) {
	codec, err := NewCodec("")
	require.NoError(t, err)
	assert.Equal(t, Snappy, codec.Algorithm())
	assert.Equal(t, ".snappy", codec.Extension())
}

func TestNewCodecUnknownAlgorithm(t *testing.T) {
	_, err := NewCodec("brotli")
	assert.Error(t, err)
}
