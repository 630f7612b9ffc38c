package markdown

import (
	"html"
	"strings"
	"unicode/utf8"
)

// RenderText renders blocks as plain text with markers removed. Tables are
// laid out as aligned columns.
func RenderText(blocks []Block) string {
	lines := make([]string, 0, len(blocks))
	for _, blk := range blocks {
		switch blk.Kind {
		case KindSpacer:
			lines = append(lines, "")
		case KindBullet:
			lines = append(lines, "• "+blk.Spans.Plain())
		case KindNumbered:
			lines = append(lines, blk.Number+". "+blk.Spans.Plain())
		case KindTable:
			lines = append(lines, alignTable(blk)...)
		default:
			lines = append(lines, blk.Spans.Plain())
		}
	}
	return strings.Join(lines, "\n")
}

// RenderTelegram renders blocks using the HTML subset accepted by the
// Telegram Bot API. Headings become bold lines and tables are preformatted.
func RenderTelegram(blocks []Block) string {
	lines := make([]string, 0, len(blocks))
	for _, blk := range blocks {
		switch blk.Kind {
		case KindSpacer:
			lines = append(lines, "")
		case KindHeading:
			lines = append(lines, "<b>"+html.EscapeString(blk.Spans.Plain())+"</b>")
		case KindBullet:
			lines = append(lines, "• "+telegramInline(blk.Spans))
		case KindNumbered:
			lines = append(lines, "<b>"+html.EscapeString(blk.Number)+".</b> "+telegramInline(blk.Spans))
		case KindTable:
			lines = append(lines, "<pre>"+html.EscapeString(strings.Join(alignTable(blk), "\n"))+"</pre>")
		default:
			lines = append(lines, telegramInline(blk.Spans))
		}
	}
	return strings.Join(lines, "\n")
}

func telegramInline(in Inline) string {
	var b strings.Builder
	for _, s := range in {
		if s.Bold {
			b.WriteString("<b>" + html.EscapeString(s.Text) + "</b>")
			continue
		}
		b.WriteString(html.EscapeString(s.Text))
	}
	return b.String()
}

// alignTable pads every column to its widest cell.
func alignTable(blk Block) []string {
	rows := make([][]string, 0, len(blk.Rows)+1)
	rows = append(rows, blk.Header)
	for _, r := range blk.Rows {
		cells := make([]string, len(r))
		for i, c := range r {
			cells[i] = c.Plain()
		}
		rows = append(rows, cells)
	}

	var widths []int
	for _, r := range rows {
		for i, c := range r {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], utf8.RuneCountInString(c))
		}
	}

	out := make([]string, 0, len(rows)+1)
	for ri, r := range rows {
		parts := make([]string, len(r))
		for i, c := range r {
			parts[i] = c + strings.Repeat(" ", widths[i]-utf8.RuneCountInString(c))
		}
		out = append(out, strings.TrimRight(strings.Join(parts, " | "), " "))
		if ri == 0 {
			seps := make([]string, len(widths))
			for i, w := range widths {
				seps[i] = strings.Repeat("-", max(w, 1))
			}
			out = append(out, strings.Join(seps, "-+-"))
		}
	}
	return out
}
