package markdown

import "strings"

// Update is the result of feeding one chunk into an Accumulator.
type Update struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
	// Stable counts the leading blocks unchanged since the previous update.
	// Renderers can skip redrawing them.
	Stable int `json:"stable"`
}

// Accumulator collects streamed chunks and re-parses the full text on every
// write. Not safe for concurrent use.
type Accumulator struct {
	buf  strings.Builder
	prev []Block
}

// Write appends chunk and returns the blocks for the accumulated text.
func (a *Accumulator) Write(chunk string) Update {
	a.buf.WriteString(chunk)
	text := a.buf.String()
	blocks := Parse(text)

	stable := 0
	for stable < len(blocks) && stable < len(a.prev) && blocks[stable].Equal(a.prev[stable]) {
		stable++
	}
	a.prev = blocks
	return Update{Text: text, Blocks: blocks, Stable: stable}
}

// Text returns everything written so far.
func (a *Accumulator) Text() string { return a.buf.String() }

// Len returns the number of bytes accumulated.
func (a *Accumulator) Len() int { return a.buf.Len() }

// Reset empties the accumulator for the next answer.
func (a *Accumulator) Reset() {
	a.buf.Reset()
	a.prev = nil
}
