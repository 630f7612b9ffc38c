package markdown

import (
	"html"
	"strings"
)

// RenderHTML renders blocks as an escaped HTML fragment. Class names are
// styled by the web page and the PDF transcript.
func RenderHTML(blocks []Block) string {
	var b strings.Builder
	for _, blk := range blocks {
		writeBlockHTML(&b, blk)
	}
	return b.String()
}

// RenderBlockHTML renders a single block.
func RenderBlockHTML(blk Block) string {
	var b strings.Builder
	writeBlockHTML(&b, blk)
	return b.String()
}

// RenderInlineHTML renders spans with bold runs wrapped in <strong>.
func RenderInlineHTML(in Inline) string {
	var b strings.Builder
	writeInlineHTML(&b, in)
	return b.String()
}

func writeBlockHTML(b *strings.Builder, blk Block) {
	switch blk.Kind {
	case KindSpacer:
		b.WriteString(`<div class="md-spacer"></div>`)
	case KindHeading:
		tag := "h2"
		if blk.Level == 3 {
			tag = "h3"
		}
		b.WriteString("<" + tag + ` class="md-` + tag + `">`)
		writeInlineHTML(b, blk.Spans)
		b.WriteString("</" + tag + ">")
	case KindBullet:
		b.WriteString(`<div class="md-bullet"><span class="md-dot">&#8226;</span><span>`)
		writeInlineHTML(b, blk.Spans)
		b.WriteString(`</span></div>`)
	case KindNumbered:
		b.WriteString(`<div class="md-num"><span class="md-num-label">`)
		b.WriteString(html.EscapeString(blk.Number))
		b.WriteString(`.</span><span>`)
		writeInlineHTML(b, blk.Spans)
		b.WriteString(`</span></div>`)
	case KindTable:
		b.WriteString(`<div class="md-table"><table><thead><tr>`)
		for _, h := range blk.Header {
			b.WriteString("<th>")
			b.WriteString(html.EscapeString(h))
			b.WriteString("</th>")
		}
		b.WriteString("</tr></thead><tbody>")
		for _, row := range blk.Rows {
			b.WriteString("<tr>")
			for _, cell := range row {
				b.WriteString("<td>")
				writeInlineHTML(b, cell)
				b.WriteString("</td>")
			}
			b.WriteString("</tr>")
		}
		b.WriteString("</tbody></table></div>")
	default:
		b.WriteString(`<div class="md-p">`)
		writeInlineHTML(b, blk.Spans)
		b.WriteString(`</div>`)
	}
}

func writeInlineHTML(b *strings.Builder, in Inline) {
	for _, s := range in {
		if s.Bold {
			b.WriteString("<strong>")
			b.WriteString(html.EscapeString(s.Text))
			b.WriteString("</strong>")
			continue
		}
		b.WriteString(html.EscapeString(s.Text))
	}
}
