// Package codecs compresses and decompresses values held at rest by storage
// backends. The logical encoding of a value (JSON) is unaffected.
package codecs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// Codec names a compression codec.
type Codec string

const (
	None   Codec = "none"
	Gzip   Codec = "gzip"
	Snappy Codec = "snappy"
)

// Validate returns an error if the Codec is not known.
func (c Codec) Validate() error {
	switch c {
	case None, Gzip, Snappy:
		return nil
	default:
		return fmt.Errorf("unsupported codec %q", string(c))
	}
}

// Extension returns the file extension conventionally appended to content
// encoded with the Codec, including the leading dot. None has no extension.
func (c Codec) Extension() string {
	switch c {
	case Gzip:
		return ".gz"
	case Snappy:
		return ".sz"
	default:
		return ""
	}
}

// Decompressor is a ReadCloser where Close closes and releases Decompressor
// state, but does not Close or affect the underlying Reader.
type Decompressor io.ReadCloser

// Compressor is a WriteCloser where Close closes and releases Compressor
// state, potentially flushing final content to the underlying Writer,
// but does not Close or otherwise affect the underlying Writer.
type Compressor io.WriteCloser

// NewCodecReader returns a Decompressor of the Reader encoded with Codec.
func NewCodecReader(r io.Reader, codec Codec) (Decompressor, error) {
	switch codec {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return nil, codec.Validate()
	}
}

// NewCodecWriter returns a Compressor wrapping the Writer encoding with Codec.
func NewCodecWriter(w io.Writer, codec Codec) (Compressor, error) {
	switch codec {
	case None, "":
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, codec.Validate()
	}
}

// Encode returns |content| compressed with |codec|.
func Encode(codec Codec, content []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w, err = NewCodecWriter(&buf, codec)
	if err != nil {
		return nil, err
	} else if _, err = w.Write(content); err != nil {
		return nil, err
	} else if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode returns |content| decompressed with |codec|.
func Decode(codec Codec, content []byte) ([]byte, error) {
	var r, err = NewCodecReader(bytes.NewReader(content), codec)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
