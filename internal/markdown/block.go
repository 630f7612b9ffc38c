// Package markdown turns streamed model output into display blocks.
//
// It understands a deliberately small subset of markdown: "##" and "###"
// headings, "*"/"-" bullets, "N." numbered items, **bold** spans and pipe
// tables. Each line is classified on its own; the only lookahead is one line
// to confirm a table separator. Anything unrecognised is a paragraph.
package markdown

import "slices"

// Kind identifies the type of a Block.
type Kind string

const (
	KindSpacer    Kind = "spacer"
	KindParagraph Kind = "paragraph"
	KindHeading   Kind = "heading"
	KindBullet    Kind = "bullet"
	KindNumbered  Kind = "numbered"
	KindTable     Kind = "table"
)

// Span is a run of inline text.
type Span struct {
	Text string `json:"text"`
	Bold bool   `json:"bold,omitempty"`
}

// Inline is a sequence of spans making up one line or table cell.
type Inline []Span

// Plain returns the text without bold markers.
func (in Inline) Plain() string {
	switch len(in) {
	case 0:
		return ""
	case 1:
		return in[0].Text
	}
	n := 0
	for _, s := range in {
		n += len(s.Text)
	}
	b := make([]byte, 0, n)
	for _, s := range in {
		b = append(b, s.Text...)
	}
	return string(b)
}

// Block is one display unit.
//
// Level is 2 or 3 for headings. Number holds the digits of a numbered item
// as written. Header and Rows are set for tables only; header cells are
// plain text while row cells carry bold spans.
type Block struct {
	Kind   Kind       `json:"kind"`
	Level  int        `json:"level,omitempty"`
	Number string     `json:"number,omitempty"`
	Spans  Inline     `json:"spans,omitempty"`
	Header []string   `json:"header,omitempty"`
	Rows   [][]Inline `json:"rows,omitempty"`
}

// Equal reports whether two blocks render identically.
func (b Block) Equal(o Block) bool {
	if b.Kind != o.Kind || b.Level != o.Level || b.Number != o.Number {
		return false
	}
	if !slices.Equal(b.Spans, o.Spans) || !slices.Equal(b.Header, o.Header) {
		return false
	}
	return slices.EqualFunc(b.Rows, o.Rows, func(r1, r2 []Inline) bool {
		return slices.EqualFunc(r1, r2, func(c1, c2 Inline) bool {
			return slices.Equal(c1, c2)
		})
	})
}
