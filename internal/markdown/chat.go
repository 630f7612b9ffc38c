package markdown

import "strings"

// chatMarkup describes the inline syntax of a chat platform. fence escapes
// table lines inside a code block; a backtick becomes U+02CB so a cell
// cannot close the block, and the column widths stay intact.
type chatMarkup struct {
	bold   string
	escape *strings.Replacer
	fence  *strings.Replacer
}

var (
	discordMarkup = chatMarkup{
		bold:   "**",
		escape: strings.NewReplacer(`\`, `\\`, "*", `\*`, "_", `\_`, "~", `\~`, "`", "\\`", "|", `\|`),
		fence:  strings.NewReplacer("`", "\u02cb"),
	}
	// Slack only reserves the three HTML control characters, and reads them
	// inside code blocks too. Entities display as one character, so aligned
	// columns survive the escaping.
	slackMarkup = chatMarkup{
		bold:   "*",
		escape: strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;"),
		fence:  strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "`", "\u02cb"),
	}
)

// RenderDiscord renders blocks as Discord markdown. Headings become bold
// lines and tables go in a code block.
func RenderDiscord(blocks []Block) string { return renderChat(blocks, discordMarkup) }

// RenderSlack renders blocks as Slack mrkdwn.
func RenderSlack(blocks []Block) string { return renderChat(blocks, slackMarkup) }

func renderChat(blocks []Block, m chatMarkup) string {
	lines := make([]string, 0, len(blocks))
	for _, blk := range blocks {
		switch blk.Kind {
		case KindSpacer:
			lines = append(lines, "")
		case KindHeading:
			lines = append(lines, m.wrapBold(blk.Spans.Plain()))
		case KindBullet:
			lines = append(lines, "• "+m.inline(blk.Spans))
		case KindNumbered:
			lines = append(lines, m.wrapBold(blk.Number+".")+" "+m.inline(blk.Spans))
		case KindTable:
			lines = append(lines, "```\n"+m.fence.Replace(strings.Join(alignTable(blk), "\n"))+"\n```")
		default:
			lines = append(lines, m.inline(blk.Spans))
		}
	}
	return strings.Join(lines, "\n")
}

func (m chatMarkup) inline(in Inline) string {
	var b strings.Builder
	for _, s := range in {
		if s.Bold {
			b.WriteString(m.wrapBold(s.Text))
			continue
		}
		b.WriteString(m.escape.Replace(s.Text))
	}
	return b.String()
}

func (m chatMarkup) wrapBold(text string) string {
	if strings.TrimSpace(text) == "" {
		return m.escape.Replace(text)
	}
	return m.bold + m.escape.Replace(text) + m.bold
}
