// Package parser provides interfaces and shared helpers for parsing OCR results.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/roboco-io/ocrtrain/internal/ir"
)

// Parser is the interface for OCR result parsers.
type Parser interface {
	// Parse reads the recognition result and returns the typed tree.
	Parse() (*ir.Document, error)

	// Close releases any resources held by the parser.
	Close() error
}

// Format represents an OCR result encoding.
type Format int

const (
	FormatUnknown Format = iota
	FormatXML
	FormatCompressedXML // zlib stream holding XML, as stored in bundles
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatCompressedXML:
		return "xml+zlib"
	default:
		return "unknown"
	}
}

// DetectFormat detects the format from the file path.
func DetectFormat(path string) Format {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".xml.z") {
		return FormatCompressedXML
	}
	switch filepath.Ext(lower) {
	case ".xml":
		return FormatXML
	case ".z", ".zz", ".zlib":
		return FormatCompressedXML
	default:
		return FormatUnknown
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectFormatFromReader detects the format by reading magic bytes.
func DetectFormatFromReader(r io.ReaderAt) (Format, error) {
	buf := make([]byte, 8)
	n, err := r.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return FormatUnknown, fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if n < 2 {
		return FormatUnknown, fmt.Errorf("file too small to detect format")
	}
	return DetectFormatFromBytes(buf[:n]), nil
}

// DetectFormatFromBytes detects the format from the leading bytes of data.
func DetectFormatFromBytes(data []byte) Format {
	if isZlibHeader(data) {
		return FormatCompressedXML
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) > 0 && data[0] == '<' {
		return FormatXML
	}

	return FormatUnknown
}

// isZlibHeader checks the RFC 1950 CMF/FLG pair.
func isZlibHeader(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	cmf, flg := data[0], data[1]
	if cmf&0x0F != 8 || cmf>>4 > 7 {
		return false
	}
	return (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// DefaultNamespace is the ABBYY FineReader 10 recognition schema namespace.
const DefaultNamespace = "http://www.abbyy.com/FineReader_xml/FineReader10-schema-v1.xml"

// Options contains parser configuration options.
type Options struct {
	Namespace string // XML namespace recognition elements must belong to
	Decoded   bool   // input is UTF-8 already; the declared encoding is ignored
}

// DefaultOptions returns default parser options.
func DefaultOptions() Options {
	return Options{
		Namespace: DefaultNamespace,
	}
}

// ParseError reports OCR input that is not well-formed XML.
type ParseError struct {
	Line int // 1-based line of the failure, 0 if unknown
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
