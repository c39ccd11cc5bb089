// Package abbyy provides a parser for ABBYY FineReader XML recognition results.
package abbyy

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/roboco-io/ocrtrain/internal/ir"
	"github.com/roboco-io/ocrtrain/internal/parser"
)

// Recognition element names.
const (
	elemDocument   = "document"
	elemBlock      = "block"
	elemParagraph  = "par"
	elemLine       = "line"
	elemFormatting = "formatting"
	elemChar       = "charParams"
)

// Parser parses FineReader XML documents.
type Parser struct {
	r       io.Reader
	closer  io.Closer
	options parser.Options
}

var _ parser.Parser = (*Parser)(nil)

// New creates a parser reading XML from r.
func New(r io.Reader, opts parser.Options) *Parser {
	return &Parser{
		r:       r,
		options: opts,
	}
}

// Open creates a parser for the file at path. Compressed files are inflated
// transparently.
func Open(path string, opts parser.Options) (*Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open OCR file: %w", err)
	}

	format, err := parser.DetectFormatFromReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if format == parser.FormatUnknown {
		format = parser.DetectFormat(path)
	}
	if format == parser.FormatUnknown {
		f.Close()
		return nil, fmt.Errorf("unsupported file format: %s", path)
	}

	rc, err := parser.NewReader(f, format)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Parser{
		r:       rc,
		closer:  multiCloser{rc, f},
		options: opts,
	}, nil
}

// Parse parses a complete document from r.
func Parse(r io.Reader, opts parser.Options) (*ir.Document, error) {
	return New(r, opts).Parse()
}

// ParseBytes parses a complete document held in memory.
func ParseBytes(data []byte, opts parser.Options) (*ir.Document, error) {
	return Parse(bytes.NewReader(data), opts)
}

// Close releases resources.
func (p *Parser) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

// Parse implements the parser.Parser interface.
func (p *Parser) Parse() (*ir.Document, error) {
	decoder := newDecoder(p.r, p.options)

	b := &builder{
		namespace: p.options.Namespace,
		doc:       ir.NewDocument(),
		cur:       cursor{block: -1, par: -1, line: -1, run: -1},
	}
	if err := b.build(decoder); err != nil {
		return nil, err
	}
	return b.doc, nil
}

// newDecoder returns an XML decoder over r. A leading byte order mark is
// consumed and fixes the encoding; otherwise the declared encoding applies
// unless the input is already decoded.
func newDecoder(r io.Reader, opts parser.Options) *xml.Decoder {
	br := bufio.NewReader(r)
	src := io.Reader(br)
	passthrough := opts.Decoded

	if head, _ := br.Peek(3); hasBOM(head) {
		src = transform.NewReader(br, unicode.BOMOverride(transform.Nop))
		passthrough = true
	}

	decoder := xml.NewDecoder(src)
	if passthrough {
		decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
			return input, nil
		}
	} else {
		decoder.CharsetReader = charset.NewReaderLabel
	}
	return decoder
}

func hasBOM(b []byte) bool {
	switch {
	case len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF:
		return true
	case len(b) >= 2 && (b[0] == 0xFE && b[1] == 0xFF || b[0] == 0xFF && b[1] == 0xFE):
		return true
	}
	return false
}

// cursor locates the innermost open recognition element of each level.
// Indices are used instead of pointers because appending may move slices.
type cursor struct {
	block, par, line, run int
	runDepth              int // stack depth of the open formatting element
}

type builder struct {
	namespace string
	doc       *ir.Document
	cur       cursor
	stack     []cursor

	rootSeen   bool
	rootClosed bool
}

func (b *builder) build(decoder *xml.Decoder) error {
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return newParseError(decoder, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if len(b.stack) == 0 {
				if b.rootClosed {
					return newParseError(decoder, errors.New("junk after document element"))
				}
				b.rootSeen = true
				if b.is(t.Name, elemDocument) {
					b.readDocumentAttrs(t)
				}
			}

			if b.is(t.Name, elemChar) && b.cur.run >= 0 && len(b.stack) == b.cur.runDepth {
				text, err := readLeadingText(decoder)
				if err != nil {
					return newParseError(decoder, err)
				}
				b.run().AddChar(text)
				continue
			}

			b.stack = append(b.stack, b.cur)
			b.open(t)

		case xml.EndElement:
			b.cur = b.stack[len(b.stack)-1]
			b.stack = b.stack[:len(b.stack)-1]
			if len(b.stack) == 0 {
				b.rootClosed = true
			}

		case xml.CharData:
			if len(b.stack) == 0 && len(bytes.TrimSpace(t)) > 0 {
				return newParseError(decoder, errors.New("text outside document element"))
			}
		}
	}

	if !b.rootSeen {
		return newParseError(decoder, errors.New("no element found"))
	}
	return nil
}

// open moves the cursor into a recognition element. Elements whose required
// ancestor is not open are ignored.
func (b *builder) open(t xml.StartElement) {
	switch {
	case b.is(t.Name, elemBlock):
		// A nested block owns its paragraphs; they are not also counted in the outer block.
		b.doc.AddBlock(ir.BlockType(attr(t, "blockType")))
		b.cur = cursor{block: len(b.doc.Blocks) - 1, par: -1, line: -1, run: -1}

	case b.is(t.Name, elemParagraph):
		if b.cur.block < 0 {
			return
		}
		block := &b.doc.Blocks[b.cur.block]
		block.AddParagraph()
		b.cur.par = len(block.Paragraphs) - 1
		b.cur.line, b.cur.run = -1, -1

	case b.is(t.Name, elemLine):
		if b.cur.par < 0 {
			return
		}
		par := &b.doc.Blocks[b.cur.block].Paragraphs[b.cur.par]
		par.AddLine()
		b.cur.line = len(par.Lines) - 1
		b.cur.run = -1

	case b.is(t.Name, elemFormatting):
		if b.cur.line < 0 {
			return
		}
		line := &b.doc.Blocks[b.cur.block].Paragraphs[b.cur.par].Lines[b.cur.line]
		line.AddRun(attr(t, "lang"))
		b.cur.run = len(line.Runs) - 1
		b.cur.runDepth = len(b.stack)
	}
}

func (b *builder) run() *ir.Run {
	c := b.cur
	return &b.doc.Blocks[c.block].Paragraphs[c.par].Lines[c.line].Runs[c.run]
}

func (b *builder) readDocumentAttrs(t xml.StartElement) {
	b.doc.Version = attr(t, "version")
	b.doc.Producer = attr(t, "producer")
}

// is matches a recognition element. An empty namespace matches any.
func (b *builder) is(name xml.Name, local string) bool {
	if name.Local != local {
		return false
	}
	return b.namespace == "" || name.Space == b.namespace
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// readLeadingText reads the character data that precedes the first child of
// the current element, then consumes the rest of the element.
func readLeadingText(decoder *xml.Decoder) (string, error) {
	var text strings.Builder
	depth := 0
	seenChild := false

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		if err != nil {
			return "", err
		}

		switch t := token.(type) {
		case xml.StartElement:
			depth++
			seenChild = true
		case xml.EndElement:
			if depth == 0 {
				return text.String(), nil
			}
			depth--
		case xml.CharData:
			if !seenChild {
				text.Write(t)
			}
		}
	}
}

func newParseError(decoder *xml.Decoder, err error) *parser.ParseError {
	var pe *parser.ParseError
	if errors.As(err, &pe) {
		return pe
	}
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		return &parser.ParseError{Line: se.Line, Err: err}
	}
	line, _ := decoder.InputPos()
	return &parser.ParseError{Line: line, Err: err}
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
