// Package reconstruct flattens a recognition tree into plain text.
//
// Text is rebuilt block by block. Every line ends with a line break and every
// paragraph adds one more. Each block is then normalized on its own
// (CleanupBlock), empty blocks are dropped, and the surviving blocks are
// joined and normalized once more at document scope (CleanupDocument). The
// order of the two normalizations matters: block scope first.
package reconstruct

import (
	"io"
	"regexp"
	"strings"

	"github.com/roboco-io/ocrtrain/internal/ir"
	"github.com/roboco-io/ocrtrain/internal/parser"
	"github.com/roboco-io/ocrtrain/internal/parser/abbyy"
)

// space matches one Unicode whitespace character, including the C0
// separators 0x1C-0x1F.
const space = `[\s\v\x{1C}-\x{1F}\x{85}\p{Z}]`

var (
	// A whitespace run containing at least one line break.
	blockBreakRun = regexp.MustCompile(space + `*\n` + space + `*`)
	// Two or more spaces.
	spaceRun = regexp.MustCompile(` {2,}`)
	// A whitespace run containing at least two line breaks.
	blankLineRun = regexp.MustCompile(space + `*\n` + space + `*\n` + space + `*`)
)

// Convert parses FineReader XML from r and reconstructs its text.
// Malformed input fails with a *parser.ParseError.
func Convert(r io.Reader, opts parser.Options) (string, error) {
	doc, err := abbyy.Parse(r, opts)
	if err != nil {
		return "", err
	}
	return Text(doc), nil
}

// Text reconstructs the plain text of doc. The result has no leading or
// trailing whitespace; blocks are separated by exactly one blank line.
func Text(doc *ir.Document) string {
	if doc == nil {
		return ""
	}
	blocks := make([]string, 0, len(doc.Blocks))
	for i := range doc.Blocks {
		if text, ok := Block(&doc.Blocks[i]); ok {
			blocks = append(blocks, text)
		}
	}
	return JoinBlocks(blocks)
}

// Block returns the normalized text of b. ok is false when the block holds
// no visible text and must be omitted.
func Block(b *ir.Block) (text string, ok bool) {
	text = CleanupBlock(BlockBuffer(b))
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// BlockBuffer returns the raw text of b before normalization: the recognized
// characters of each line followed by a line break, plus one extra line
// break after each paragraph.
func BlockBuffer(b *ir.Block) string {
	var sb strings.Builder
	for _, par := range b.Paragraphs {
		for _, line := range par.Lines {
			for _, run := range line.Runs {
				for _, c := range run.Chars {
					if r, ok := c.Glyph(); ok {
						sb.WriteRune(r)
					}
				}
			}
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// CleanupBlock collapses every whitespace run that contains a line break into
// a single line break, then collapses runs of spaces into one space.
//
//	CleanupBlock("Ab3\n\n")       == "Ab3\n"
//	CleanupBlock("A  B")          == "A B"
//	CleanupBlock("A \n \n\tB\n")  == "A\nB\n"
func CleanupBlock(text string) string {
	text = blockBreakRun.ReplaceAllLiteralString(text, "\n")
	return spaceRun.ReplaceAllLiteralString(text, " ")
}

// CleanupDocument collapses every whitespace run that contains two or more
// line breaks into exactly one blank line, and trims the ends.
//
//	CleanupDocument("Foo\n\n\nBar\n\n") == "Foo\n\nBar"
func CleanupDocument(text string) string {
	text = blankLineRun.ReplaceAllLiteralString(text, "\n\n")
	return strings.TrimSpace(text)
}

// JoinBlocks joins normalized block texts with a line break and normalizes
// the result at document scope.
func JoinBlocks(blocks []string) string {
	return CleanupDocument(strings.Join(blocks, "\n"))
}
