package markdown

import (
	"testing"
)

func TestParse_Empty(t *testing.T) {
	if got := Parse(""); got != nil {
		t.Fatalf("expected no blocks, got %v", got)
	}
}

func TestParse_LineKinds(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Block
	}{
		{"h2", "## Summary", Block{Kind: KindHeading, Level: 2, Spans: Inline{{Text: "Summary"}}}},
		{"h3", "### Details", Block{Kind: KindHeading, Level: 3, Spans: Inline{{Text: "Details"}}}},
		{"h3 indented", "   ### Details", Block{Kind: KindHeading, Level: 3, Spans: Inline{{Text: "Details"}}}},
		{"single hash", "# Title", Block{Kind: KindParagraph, Spans: Inline{{Text: "# Title"}}}},
		{"no space after hashes", "##Title", Block{Kind: KindParagraph, Spans: Inline{{Text: "##Title"}}}},
		{"star bullet", "* item", Block{Kind: KindBullet, Spans: Inline{{Text: "item"}}}},
		{"dash bullet", "- item", Block{Kind: KindBullet, Spans: Inline{{Text: "item"}}}},
		{"nested bullet flattens", "    - inner", Block{Kind: KindBullet, Spans: Inline{{Text: "inner"}}}},
		{"numbered", "2. Second", Block{Kind: KindNumbered, Number: "2", Spans: Inline{{Text: "Second"}}}},
		{"numbered multi digit", "12. Twelfth", Block{Kind: KindNumbered, Number: "12", Spans: Inline{{Text: "Twelfth"}}}},
		{"numbered without text", "3.", Block{Kind: KindParagraph, Spans: Inline{{Text: "3."}}}},
		{"paragraph keeps indentation", "  indented text", Block{Kind: KindParagraph, Spans: Inline{{Text: "  indented text"}}}},
		{"whitespace only", "   ", Block{Kind: KindSpacer}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if len(got) != 1 {
				t.Fatalf("expected 1 block, got %d: %+v", len(got), got)
			}
			if !got[0].Equal(tt.want) {
				t.Fatalf("got %+v, want %+v", got[0], tt.want)
			}
		})
	}
}

func TestParse_MixedDocument(t *testing.T) {
	input := "## Findings\n\nYour **hemoglobin** is low.\n* Iron\n1. Eat well"
	got := Parse(input)

	kinds := []Kind{KindHeading, KindSpacer, KindParagraph, KindBullet, KindNumbered}
	if len(got) != len(kinds) {
		t.Fatalf("expected %d blocks, got %d: %+v", len(kinds), len(got), got)
	}
	for i, k := range kinds {
		if got[i].Kind != k {
			t.Errorf("block %d: expected %s, got %s", i, k, got[i].Kind)
		}
	}

	para := got[2].Spans
	if len(para) != 3 || !para[1].Bold || para[1].Text != "hemoglobin" {
		t.Fatalf("unexpected paragraph spans: %+v", para)
	}
}

func TestParse_Table(t *testing.T) {
	input := "| Test | Value |\n|---|---|\n| **HbA1c** | 6.1% |\n| LDL | 130 |"
	got := Parse(input)
	if len(got) != 1 {
		t.Fatalf("expected 1 block, got %d: %+v", len(got), got)
	}

	tbl := got[0]
	if tbl.Kind != KindTable {
		t.Fatalf("expected table, got %s", tbl.Kind)
	}
	if len(tbl.Header) != 2 || tbl.Header[0] != "Test" || tbl.Header[1] != "Value" {
		t.Fatalf("unexpected header: %q", tbl.Header)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(tbl.Rows))
	}
	first := tbl.Rows[0][0]
	if len(first) != 1 || !first[0].Bold || first[0].Text != "HbA1c" {
		t.Fatalf("expected bold HbA1c cell, got %+v", first)
	}
	if tbl.Rows[1][1].Plain() != "130" {
		t.Fatalf("expected 130, got %q", tbl.Rows[1][1].Plain())
	}
}

func TestParse_TableHeaderCellsStayLiteral(t *testing.T) {
	got := Parse("| **Bold** | b |\n|---|---|")
	if got[0].Header[0] != "**Bold**" {
		t.Fatalf("header cells are not inline-parsed, got %q", got[0].Header[0])
	}
}

func TestParse_TableWithoutOuterPipes(t *testing.T) {
	got := Parse("A | B\n--- | ---\n1 | 2")
	if len(got) != 1 || got[0].Kind != KindTable {
		t.Fatalf("expected a table, got %+v", got)
	}
	if got[0].Header[0] != "A" || got[0].Rows[0][1].Plain() != "2" {
		t.Fatalf("unexpected table: %+v", got[0])
	}
}

func TestParse_HeaderOnlyTable(t *testing.T) {
	got := Parse("| a | b |\n|---|---|")
	if len(got) != 1 || got[0].Kind != KindTable {
		t.Fatalf("expected a table, got %+v", got)
	}
	if len(got[0].Rows) != 0 {
		t.Fatalf("expected zero rows, got %d", len(got[0].Rows))
	}
}

func TestParse_RaggedRowsAreKept(t *testing.T) {
	got := Parse("|a|b|c|\n|---|---|---|\n|1|\n|1|2|3|4|")
	rows := got[0].Rows
	if len(rows[0]) != 1 || len(rows[1]) != 4 {
		t.Fatalf("rows should keep their own cell counts, got %d and %d", len(rows[0]), len(rows[1]))
	}
}

func TestParse_BlankLineClosingTableIsConsumed(t *testing.T) {
	got := Parse("|a|b|\n|---|---|\n|1|2|\n\nAfter")
	if len(got) != 2 {
		t.Fatalf("expected table + paragraph, got %d: %+v", len(got), got)
	}
	if got[0].Kind != KindTable || got[1].Kind != KindParagraph {
		t.Fatalf("unexpected kinds: %s, %s", got[0].Kind, got[1].Kind)
	}
}

func TestParse_LineAfterTableIsClassified(t *testing.T) {
	got := Parse("|a|b|\n|---|---|\n|1|2|\n### Next")
	if len(got) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(got))
	}
	if got[1].Kind != KindHeading || got[1].Level != 3 {
		t.Fatalf("expected h3 after table, got %+v", got[1])
	}
}

func TestParse_SecondBlankAfterTableIsSpacer(t *testing.T) {
	got := Parse("|a|b|\n|---|---|\n\n\nText")
	kinds := []Kind{KindTable, KindSpacer, KindParagraph}
	if len(got) != len(kinds) {
		t.Fatalf("expected %d blocks, got %d: %+v", len(kinds), len(got), got)
	}
	for i, k := range kinds {
		if got[i].Kind != k {
			t.Errorf("block %d: expected %s, got %s", i, k, got[i].Kind)
		}
	}
}

func TestParse_PipeWithoutSeparatorIsParagraph(t *testing.T) {
	got := Parse("either | or\nsomething else")
	if len(got) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(got))
	}
	if got[0].Kind != KindParagraph || got[0].Spans.Plain() != "either | or" {
		t.Fatalf("expected literal paragraph, got %+v", got[0])
	}
}

func TestParse_TrailingPipeLineIsParagraph(t *testing.T) {
	got := Parse("| a | b |")
	if len(got) != 1 || got[0].Kind != KindParagraph {
		t.Fatalf("a lone pipe line without lookahead is a paragraph, got %+v", got)
	}
}

func TestParse_SeparatorNeedsThreeDashes(t *testing.T) {
	got := Parse("|a|b|\n|--|--|")
	for _, b := range got {
		if b.Kind == KindTable {
			t.Fatalf("two dashes should not start a table: %+v", got)
		}
	}
}

func TestParse_TableThenTable(t *testing.T) {
	// A pipe line right after a table continues it; there is no way to
	// start a second table without a non-pipe line in between.
	got := Parse("|a|\n|---|\n|1|\n|b|\n|---|\n|2|")
	if len(got) != 1 {
		t.Fatalf("expected one merged table, got %d", len(got))
	}
	if len(got[0].Rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(got[0].Rows))
	}
}

func TestParse_StreamingTableAppears(t *testing.T) {
	partial := Parse("| a | b |")
	if partial[0].Kind != KindParagraph {
		t.Fatalf("partial header should render as paragraph, got %s", partial[0].Kind)
	}

	full := Parse("| a | b |\n---")
	if len(full) != 2 || full[0].Kind != KindParagraph {
		t.Fatalf("separator without pipe is not a table yet: %+v", full)
	}

	confirmed := Parse("| a | b |\n|---|")
	if len(confirmed) != 1 || confirmed[0].Kind != KindTable {
		t.Fatalf("expected table once separator has a pipe, got %+v", confirmed)
	}
}

func TestParse_CRLF(t *testing.T) {
	got := Parse("## Title\r\n* item\r\n")
	if got[0].Kind != KindHeading || got[0].Spans.Plain() != "Title" {
		t.Fatalf("unexpected heading: %+v", got[0])
	}
	if got[1].Kind != KindBullet || got[1].Spans.Plain() != "item" {
		t.Fatalf("unexpected bullet: %+v", got[1])
	}
	if got[2].Kind != KindSpacer {
		t.Fatalf("trailing newline should give a spacer, got %+v", got[2])
	}
}

// --- ParseInline ---

func TestParseInline(t *testing.T) {
	tests := []struct {
		input string
		want  Inline
	}{
		{"", nil},
		{"plain", Inline{{Text: "plain"}}},
		{"a **b** c", Inline{{Text: "a "}, {Text: "b", Bold: true}, {Text: " c"}}},
		{"**a** **b**", Inline{{Text: "a", Bold: true}, {Text: " "}, {Text: "b", Bold: true}}},
		{"**whole**", Inline{{Text: "whole", Bold: true}}},
		{"open ** only", Inline{{Text: "open ** only"}}},
		{"**", nil},
		{"***", nil},
		{"****", nil},
		{"**a**b**", Inline{{Text: "a", Bold: true}, {Text: "b**"}}},
	}

	for _, tt := range tests {
		got := ParseInline(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("ParseInline(%q) = %+v, want %+v", tt.input, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParseInline(%q)[%d] = %+v, want %+v", tt.input, i, got[i], tt.want[i])
			}
		}
	}
}

func TestInline_Plain(t *testing.T) {
	in := ParseInline("Take **500mg** twice")
	if in.Plain() != "Take 500mg twice" {
		t.Fatalf("unexpected plain text %q", in.Plain())
	}
}
