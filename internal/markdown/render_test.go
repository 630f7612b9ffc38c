package markdown

import (
	"strings"
	"testing"
)

func TestAccumulator_StableCount(t *testing.T) {
	var acc Accumulator

	u := acc.Write("## Title\n")
	if len(u.Blocks) != 2 || u.Stable != 0 {
		t.Fatalf("first write: blocks=%d stable=%d", len(u.Blocks), u.Stable)
	}

	u = acc.Write("Some text")
	if u.Text != "## Title\nSome text" {
		t.Fatalf("unexpected accumulated text %q", u.Text)
	}
	if u.Stable != 1 {
		t.Fatalf("heading should be stable, got stable=%d", u.Stable)
	}

	u = acc.Write(" continues")
	if u.Stable != 1 || len(u.Blocks) != 2 {
		t.Fatalf("growing paragraph: blocks=%d stable=%d", len(u.Blocks), u.Stable)
	}
	if u.Blocks[1].Spans.Plain() != "Some text continues" {
		t.Fatalf("unexpected paragraph %q", u.Blocks[1].Spans.Plain())
	}
}

func TestAccumulator_TableRewritesPreviousLine(t *testing.T) {
	var acc Accumulator
	acc.Write("| a | b |")
	u := acc.Write("\n|---|---|")
	if u.Stable != 0 {
		t.Fatalf("header paragraph becomes a table, stable should be 0, got %d", u.Stable)
	}
	if u.Blocks[0].Kind != KindTable {
		t.Fatalf("expected table, got %s", u.Blocks[0].Kind)
	}
}

func TestAccumulator_Reset(t *testing.T) {
	var acc Accumulator
	acc.Write("hello")
	acc.Reset()
	if acc.Len() != 0 || acc.Text() != "" {
		t.Fatal("reset should clear text")
	}
	if u := acc.Write("x"); u.Stable != 0 {
		t.Fatalf("reset should clear previous blocks, stable=%d", u.Stable)
	}
}

func TestRenderHTML_EscapesText(t *testing.T) {
	out := RenderHTML(Parse("<script>alert(1)</script> **<b>**"))
	if strings.Contains(out, "<script>") {
		t.Fatalf("raw script tag leaked: %s", out)
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Fatalf("expected escaped script tag: %s", out)
	}
	if !strings.Contains(out, "<strong>&lt;b&gt;</strong>") {
		t.Fatalf("expected escaped bold span: %s", out)
	}
}

func TestRenderHTML_Blocks(t *testing.T) {
	out := RenderHTML(Parse("## H\n### Sub\n* b\n7. n\n\n|x|y|\n|---|---|\n|**1**|2|"))
	for _, want := range []string{
		`<h2 class="md-h2">H</h2>`,
		`<h3 class="md-h3">Sub</h3>`,
		`<div class="md-bullet">`,
		`<span class="md-num-label">7.</span>`,
		`<div class="md-spacer"></div>`,
		`<th>x</th><th>y</th>`,
		`<td><strong>1</strong></td><td>2</td>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %s", want, out)
		}
	}
}

func TestRenderInlineHTML(t *testing.T) {
	got := RenderInlineHTML(ParseInline("a **b** & c"))
	if got != "a <strong>b</strong> &amp; c" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestRenderText_Table(t *testing.T) {
	out := RenderText(Parse("|Name|Dose|\n|---|---|\n|Metformin|**500mg**|"))
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), out)
	}
	if lines[0] != "Name      | Dose" {
		t.Fatalf("unexpected header line %q", lines[0])
	}
	if lines[2] != "Metformin | 500mg" {
		t.Fatalf("unexpected row line %q", lines[2])
	}
	if !strings.HasPrefix(lines[1], "---------") {
		t.Fatalf("unexpected separator %q", lines[1])
	}
}

func TestRenderText_Lists(t *testing.T) {
	out := RenderText(Parse("## Plan\n- rest\n2. **hydrate**"))
	want := "Plan\n• rest\n2. hydrate"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestRenderTelegram(t *testing.T) {
	out := RenderTelegram(Parse("### Result\nLevel **high** & <ok>"))
	want := "<b>Result</b>\nLevel <b>high</b> &amp; &lt;ok&gt;"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestRenderTelegram_TableIsPreformatted(t *testing.T) {
	out := RenderTelegram(Parse("|a|b|\n|---|---|\n|1|2|"))
	if !strings.HasPrefix(out, "<pre>") || !strings.HasSuffix(out, "</pre>") {
		t.Fatalf("expected <pre> block, got %q", out)
	}
}

func TestRenderTerminal_ContainsText(t *testing.T) {
	out := RenderTerminal(Parse("## Summary\n* **Glucose** normal\n|Test|Value|\n|---|---|\n|TSH|2.1|"), DefaultTheme())
	for _, want := range []string{"Summary", "Glucose", "normal", "TSH", "2.1"} {
		if !strings.Contains(out, want) {
			t.Errorf("terminal output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderDiscord(t *testing.T) {
	out := RenderDiscord(Parse("## Plan\n1. **Take** with food_now\n* dose *2*"))
	want := "**Plan**\n**1.** **Take** with food\\_now\n• dose \\*2\\*"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestRenderSlack(t *testing.T) {
	out := RenderSlack(Parse("### Result\nLevel **high** & <ok>"))
	want := "*Result*\nLevel *high* &amp; &lt;ok&gt;"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestRenderChat_TableIsCodeBlock(t *testing.T) {
	for name, render := range map[string]func([]Block) string{"discord": RenderDiscord, "slack": RenderSlack} {
		out := render(Parse("|a|b|\n|---|---|\n|1|2|"))
		if !strings.HasPrefix(out, "```\n") || !strings.HasSuffix(out, "\n```") {
			t.Errorf("%s: expected code block, got %q", name, out)
		}
	}
}

func TestRenderSlack_TableCellsEscaped(t *testing.T) {
	out := RenderSlack(Parse("| Drug | Note |\n|---|---|\n| <!channel> | a & b < c |\n\n<!channel> para"))
	if strings.Contains(out, "<!channel>") {
		t.Fatalf("control sequence left live: %q", out)
	}
	if !strings.Contains(out, "&lt;!channel&gt; | a &amp; b &lt; c") {
		t.Fatalf("table row not escaped: %q", out)
	}
}

func TestRenderChat_BackticksCannotCloseTable(t *testing.T) {
	for name, render := range map[string]func([]Block) string{"discord": RenderDiscord, "slack": RenderSlack} {
		out := render(Parse("| a | b |\n|---|---|\n| x ``` y | 2 |"))
		body := strings.TrimSuffix(strings.TrimPrefix(out, "```\n"), "\n```")
		if strings.Contains(body, "`") {
			t.Errorf("%s: backtick inside the code block: %q", name, out)
		}
		if !strings.Contains(body, "x ˋˋˋ y") {
			t.Errorf("%s: cell text lost: %q", name, out)
		}
	}
}
