package parser

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Inflate decompresses a zlib stream held in memory.
func Inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open zlib stream: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate zlib stream: %w", err)
	}
	return out, nil
}

// NewReader wraps r so that it yields XML for the given format.
// FormatXML passes r through unchanged.
func NewReader(r io.Reader, format Format) (io.ReadCloser, error) {
	switch format {
	case FormatXML:
		return io.NopCloser(r), nil
	case FormatCompressedXML:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open zlib stream: %w", err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
