package markdown

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// TerminalTheme holds the lipgloss styles used by RenderTerminal.
type TerminalTheme struct {
	H2     lipgloss.Style
	H3     lipgloss.Style
	Bold   lipgloss.Style
	Bullet lipgloss.Style
	Number lipgloss.Style
	Border lipgloss.Style
	Header lipgloss.Style
	Cell   lipgloss.Style
}

// DefaultTheme mirrors the web palette: teal accents on neutral text.
func DefaultTheme() TerminalTheme {
	accent := lipgloss.Color("37")
	return TerminalTheme{
		H2:     lipgloss.NewStyle().Bold(true).Underline(true).Foreground(lipgloss.Color("255")).MarginTop(1),
		H3:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")),
		Bold:   lipgloss.NewStyle().Bold(true),
		Bullet: lipgloss.NewStyle().Foreground(accent),
		Number: lipgloss.NewStyle().Bold(true).Foreground(accent),
		Border: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Header: lipgloss.NewStyle().Bold(true).Padding(0, 1),
		Cell:   lipgloss.NewStyle().Padding(0, 1),
	}
}

// RenderTerminal renders blocks with ANSI styling for an interactive shell.
func RenderTerminal(blocks []Block, theme TerminalTheme) string {
	lines := make([]string, 0, len(blocks))
	for _, blk := range blocks {
		switch blk.Kind {
		case KindSpacer:
			lines = append(lines, "")
		case KindHeading:
			style := theme.H2
			if blk.Level == 3 {
				style = theme.H3
			}
			lines = append(lines, style.Render(blk.Spans.Plain()))
		case KindBullet:
			lines = append(lines, "  "+theme.Bullet.Render("•")+" "+terminalInline(blk.Spans, theme))
		case KindNumbered:
			lines = append(lines, "  "+theme.Number.Render(blk.Number+".")+" "+terminalInline(blk.Spans, theme))
		case KindTable:
			lines = append(lines, terminalTable(blk, theme))
		default:
			lines = append(lines, terminalInline(blk.Spans, theme))
		}
	}
	return strings.Join(lines, "\n")
}

func terminalInline(in Inline, theme TerminalTheme) string {
	var b strings.Builder
	for _, s := range in {
		if s.Bold {
			b.WriteString(theme.Bold.Render(s.Text))
			continue
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

func terminalTable(blk Block, theme TerminalTheme) string {
	rows := make([][]string, 0, len(blk.Rows))
	for _, r := range blk.Rows {
		cells := make([]string, len(r))
		for i, c := range r {
			cells[i] = terminalInline(c, theme)
		}
		rows = append(rows, cells)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(theme.Border).
		Headers(blk.Header...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header
			}
			return theme.Cell
		})
	return t.String()
}
