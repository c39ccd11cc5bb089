package ir

import "unicode/utf8"

// Paragraph holds the recognized lines of one paragraph.
type Paragraph struct {
	Lines []Line `json:"lines,omitempty"`
}

// Line holds the formatting runs of one text line.
type Line struct {
	Runs []Run `json:"runs,omitempty"`
}

// Run is a span of uniformly formatted characters.
type Run struct {
	Lang  string `json:"lang,omitempty"`
	Chars []Char `json:"chars,omitempty"`
}

// Char is a single character entry. Text holds the best-guess text of the
// entry; alternate recognition candidates are not kept.
type Char struct {
	Text string `json:"text"`
}

// AddLine appends a line and returns a pointer to it.
func (p *Paragraph) AddLine() *Line {
	p.Lines = append(p.Lines, Line{})
	return &p.Lines[len(p.Lines)-1]
}

// AddRun appends a formatting run and returns a pointer to it.
func (l *Line) AddRun(lang string) *Run {
	l.Runs = append(l.Runs, Run{Lang: lang})
	return &l.Runs[len(l.Runs)-1]
}

// AddChar appends a character entry.
func (r *Run) AddChar(text string) {
	r.Chars = append(r.Chars, Char{Text: text})
}

// Glyph returns the first character of the entry's text.
// ok is false when the entry has no usable text.
func (c Char) Glyph() (r rune, ok bool) {
	if c.Text == "" {
		return 0, false
	}
	r, size := utf8.DecodeRuneInString(c.Text)
	if r == utf8.RuneError && size <= 1 {
		return 0, false
	}
	return r, true
}

// IsEmpty returns true if the paragraph has no lines.
func (p *Paragraph) IsEmpty() bool {
	return len(p.Lines) == 0
}
