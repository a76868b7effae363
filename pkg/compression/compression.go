// Package compression provides the spill-file codecs used by the chunked
// executor. Chunk intermediates written under the temp directory are
// compressed with a selectable algorithm; snappy is the default because the
// files are short-lived and write speed dominates.
package compression

import (
	"compress/gzip"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/speedframe/speed/pkg/errors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None disables spill compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
)

// Codec wraps writers and readers with one compression algorithm. The zero
// value is not usable; construct with NewCodec.
type Codec struct {
	algorithm Algorithm
}

// NewCodec creates a codec for the given algorithm. An empty algorithm
// selects Snappy.
func NewCodec(algorithm Algorithm) (*Codec, error) {
	switch algorithm {
	case "":
		algorithm = Snappy
	case None, Gzip, Snappy, LZ4, Zstd, S2:
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "unsupported compression algorithm").
			WithDetail("algorithm", string(algorithm))
	}
	return &Codec{algorithm: algorithm}, nil
}

// Algorithm returns the codec's algorithm.
func (c *Codec) Algorithm() Algorithm {
	return c.algorithm
}

// Extension returns the file-name suffix for spill files of this codec.
func (c *Codec) Extension() string {
	if c.algorithm == None {
		return ""
	}
	return "." + string(c.algorithm)
}

// WrapWriter returns a writer that compresses into w. The caller must Close
// the returned writer to flush before closing w.
func (c *Codec) WrapWriter(w io.Writer) (io.WriteCloser, error) {
	switch c.algorithm {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case LZ4:
		return lz4.NewWriter(w), nil
	case Zstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create zstd writer")
		}
		return zw, nil
	case S2:
		return s2.NewWriter(w), nil
	default:
		return nil, errors.New(errors.ErrorTypeInternal, "unsupported compression algorithm").
			WithDetail("algorithm", string(c.algorithm))
	}
}

// WrapReader returns a reader that decompresses from r.
func (c *Codec) WrapReader(r io.Reader) (io.ReadCloser, error) {
	switch c.algorithm {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open gzip reader")
		}
		return gr, nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open zstd reader")
		}
		return zr.IOReadCloser(), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	default:
		return nil, errors.New(errors.ErrorTypeInternal, "unsupported compression algorithm").
			WithDetail("algorithm", string(c.algorithm))
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
