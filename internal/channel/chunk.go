package channel

import (
	"strings"

	"mediinterpret/internal/markdown"
)

// chunkBlocks groups blocks so that each group renders within limit bytes.
// Groups break at block boundaries; a block that alone exceeds the limit is
// first split by fitBlock.
func chunkBlocks(blocks []markdown.Block, limit int, render func([]markdown.Block) string) [][]markdown.Block {
	var out [][]markdown.Block
	var cur []markdown.Block
	for _, blk := range blocks {
		for _, piece := range fitBlock(blk, limit, render) {
			next := append(append([]markdown.Block(nil), cur...), piece)
			if len(cur) > 0 && len(render(next)) > limit {
				out = append(out, cur)
				cur = []markdown.Block{piece}
				continue
			}
			cur = next
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// fitBlock splits blk until every piece renders within limit. Tables split
// into row groups that each repeat the header; a table down to one row that
// still does not fit continues as a paragraph of its cells. Text splits near
// the middle, at a space when there is one, and the tail continues as a
// paragraph.
func fitBlock(blk markdown.Block, limit int, render func([]markdown.Block) string) []markdown.Block {
	if len(render([]markdown.Block{blk})) <= limit {
		return []markdown.Block{blk}
	}
	switch blk.Kind {
	case markdown.KindSpacer:
		return []markdown.Block{blk}
	case markdown.KindTable:
		if len(blk.Rows) > 1 {
			head, tail := blk, blk
			mid := len(blk.Rows) / 2
			head.Rows, tail.Rows = blk.Rows[:mid], blk.Rows[mid:]
			return append(fitBlock(head, limit, render), fitBlock(tail, limit, render)...)
		}
		return fitBlock(tableParagraph(blk), limit, render)
	}

	head, tail, ok := splitInline(blk.Spans)
	if !ok {
		return []markdown.Block{blk}
	}
	first := blk
	first.Spans = head
	rest := markdown.Block{Kind: markdown.KindParagraph, Spans: tail}
	return append(fitBlock(first, limit, render), fitBlock(rest, limit, render)...)
}

func tableParagraph(blk markdown.Block) markdown.Block {
	var spans markdown.Inline
	sep := func() {
		if len(spans) > 0 {
			spans = append(spans, markdown.Span{Text: " | "})
		}
	}
	for _, h := range blk.Header {
		sep()
		spans = append(spans, markdown.Span{Text: h, Bold: true})
	}
	for _, row := range blk.Rows {
		for _, cell := range row {
			sep()
			spans = append(spans, cell...)
		}
	}
	return markdown.Block{Kind: markdown.KindParagraph, Spans: spans}
}

// splitInline cuts in near its middle rune, keeping bold spans bold on both
// sides. It reports false when in is a single rune.
func splitInline(in markdown.Inline) (markdown.Inline, markdown.Inline, bool) {
	runes := []rune(in.Plain())
	if len(runes) < 2 {
		return nil, nil, false
	}
	cut := len(runes) / 2
	if sp := strings.LastIndex(string(runes[:cut]), " "); sp >= 0 {
		if at := len([]rune(string(runes[:cut])[:sp])) + 1; at >= cut/2 {
			cut = at
		}
	}

	var head, tail markdown.Inline
	pos := 0
	for _, s := range in {
		r := []rune(s.Text)
		switch {
		case pos+len(r) <= cut:
			head = append(head, s)
		case pos >= cut:
			tail = append(tail, s)
		default:
			k := cut - pos
			head = append(head, markdown.Span{Text: string(r[:k]), Bold: s.Bold})
			tail = append(tail, markdown.Span{Text: string(r[k:]), Bold: s.Bold})
		}
		pos += len(r)
	}
	return head, tail, true
}
