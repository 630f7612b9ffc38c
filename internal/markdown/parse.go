package markdown

import (
	"regexp"
	"strings"
)

var (
	numberedPattern = regexp.MustCompile(`^(\d+)\.\s(.+)`)
	boldPattern     = regexp.MustCompile(`\*\*.*?\*\*`)
)

// Parse converts accumulated text into display blocks. It is safe to call
// on a partial stream; a table still being written is flushed at the end.
func Parse(text string) []Block {
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	blocks := make([]Block, 0, len(lines))

	var (
		inTable bool
		table   []string
	)

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		looksLikeTable := strings.Contains(line, "|")

		if inTable {
			if looksLikeTable {
				table = append(table, line)
				continue
			}
			if b, ok := parseTable(table); ok {
				blocks = append(blocks, b)
			}
			inTable = false
			table = nil
			// The blank line that closes a table is swallowed.
			if line != "" {
				blocks = append(blocks, parseLine(raw))
			}
			continue
		}

		if looksLikeTable && i+1 < len(lines) {
			next := strings.TrimSpace(lines[i+1])
			if strings.Contains(next, "---") && strings.Contains(next, "|") {
				inTable = true
				table = append(table, line)
				continue
			}
		}
		blocks = append(blocks, parseLine(raw))
	}

	if inTable {
		if b, ok := parseTable(table); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// parseLine classifies a single non-table line. Paragraphs keep the raw
// line so leading indentation survives.
func parseLine(raw string) Block {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Block{Kind: KindSpacer}
	}

	switch {
	case strings.HasPrefix(trimmed, "### "):
		return Block{Kind: KindHeading, Level: 3, Spans: ParseInline(trimmed[4:])}
	case strings.HasPrefix(trimmed, "## "):
		return Block{Kind: KindHeading, Level: 2, Spans: ParseInline(trimmed[3:])}
	case strings.HasPrefix(trimmed, "* "), strings.HasPrefix(trimmed, "- "):
		return Block{Kind: KindBullet, Spans: ParseInline(trimmed[2:])}
	}

	if m := numberedPattern.FindStringSubmatch(trimmed); m != nil {
		return Block{Kind: KindNumbered, Number: m[1], Spans: ParseInline(m[2])}
	}

	return Block{Kind: KindParagraph, Spans: ParseInline(raw)}
}

// parseTable builds a table from buffered trimmed lines. The second line is
// the separator and is skipped. Rows keep whatever cell count they have.
func parseTable(lines []string) (Block, bool) {
	if len(lines) < 2 {
		return Block{}, false
	}

	b := Block{Kind: KindTable, Header: splitRow(lines[0])}
	for _, line := range lines[2:] {
		cells := splitRow(line)
		row := make([]Inline, len(cells))
		for i, c := range cells {
			row[i] = ParseInline(c)
		}
		b.Rows = append(b.Rows, row)
	}
	return b, true
}

// splitRow strips one leading and one trailing pipe, then splits on the rest.
func splitRow(line string) []string {
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

// ParseInline splits text into plain and bold spans. A bold span is the
// shortest run between two "**" markers on the same line. Unpaired markers
// inside text stay literal. Empty spans are dropped, so a segment that is
// nothing but "**" or "***" renders as nothing.
func ParseInline(text string) Inline {
	if text == "" {
		return nil
	}

	var spans Inline
	last := 0
	for _, loc := range boldPattern.FindAllStringIndex(text, -1) {
		spans = appendSegment(spans, text[last:loc[0]])
		spans = appendSegment(spans, text[loc[0]:loc[1]])
		last = loc[1]
	}
	spans = appendSegment(spans, text[last:])
	return spans
}

func appendSegment(spans Inline, seg string) Inline {
	if seg == "" {
		return spans
	}
	if strings.HasPrefix(seg, "**") && strings.HasSuffix(seg, "**") {
		if len(seg) < 4 {
			return spans
		}
		if inner := seg[2 : len(seg)-2]; inner != "" {
			spans = append(spans, Span{Text: inner, Bold: true})
		}
		return spans
	}
	return append(spans, Span{Text: seg})
}
