package channel

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediinterpret/internal/chat"
	"mediinterpret/internal/domain"
	"mediinterpret/internal/markdown"
)

func newTestCLI(t *testing.T, p domain.Provider, input string, typ domain.ConsultationType) (*CLI, *bytes.Buffer) {
	t.Helper()
	m, err := chat.NewManager(chat.Config{Provider: p, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	c := NewCLI(CLIConfig{
		Chat:   m,
		Logger: testLogger(),
		In:     strings.NewReader(input),
		Out:    out,
		Plain:  true,
		Type:   typ,
	})
	return c, out
}

// --- Interactive loop ---

func TestCLI_PickCategoryAskAndQuit(t *testing.T) {
	p := &streamProvider{chunks: []string{"## Summary\n", "* TSH **normal**"}}
	c, out := newTestCLI(t, p, "2\nIs my TSH fine?\n/back\n/quit\n", "")

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"1. Imaging & Radiology",
		"Lab Test Analysis",
		"Hello. I am your AI Lab Interpreter.",
		"Summary",
		"• TSH normal",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output should contain %q\n%s", want, got)
		}
	}
	if strings.Contains(got, "**") {
		t.Error("plain output should not contain markdown markers")
	}
	if strings.Count(got, "choose a consultation type") != 2 {
		t.Error("/back should return to the category menu")
	}
	if !strings.HasPrefix(p.lastRequest().System, "You are an expert Medical Laboratory") {
		t.Errorf("unexpected system instruction %q", p.lastRequest().System)
	}
}

func TestCLI_CategoryByName(t *testing.T) {
	c, out := newTestCLI(t, &streamProvider{}, "nonsense\nmedication\n/quit\n", "")
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Enter a number between 1 and 4.") {
		t.Error("invalid choice should be reported")
	}
	if !strings.Contains(out.String(), "AI Medication Assistant") {
		t.Error("medication welcome expected")
	}
}

func TestCLI_PresetTypeSkipsMenu(t *testing.T) {
	c, out := newTestCLI(t, &streamProvider{}, "/help\n/bogus\n/quit\n", domain.ConsultDecision)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if strings.Contains(got, "choose a consultation type") {
		t.Error("menu should be skipped when a type is preset")
	}
	if !strings.Contains(got, "/attach <path>") {
		t.Error("help should list commands")
	}
	if !strings.Contains(got, "Unknown command") {
		t.Error("unknown command should be reported")
	}
}

func TestCLI_EndOfInputReturns(t *testing.T) {
	c, _ := newTestCLI(t, &streamProvider{}, "1\n", "")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("expected clean exit on EOF, got %v", err)
	}
}

func TestCLI_AttachAndSend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	p := &streamProvider{chunks: []string{"Looks like a scan."}}
	c, out := newTestCLI(t, p, "/send\n/attach "+path+"\n/send\n/quit\n", domain.ConsultImaging)

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "Nothing attached.") {
		t.Error("/send without attachment should be rejected")
	}
	if !strings.Contains(got, "Attached scan.png (image/png)") {
		t.Errorf("attach confirmation missing:\n%s", got)
	}
	parts := p.lastRequest().Contents[0].Parts
	if len(parts) != 2 || parts[0].InlineData == nil || parts[1].Text != domain.DefaultAttachmentPrompt {
		t.Fatalf("expected attachment with default prompt, got %+v", parts)
	}
}

func TestCLI_AttachMissingFile(t *testing.T) {
	c, out := newTestCLI(t, &streamProvider{}, "/attach /does/not/exist.png\n/attach\n/quit\n", domain.ConsultImaging)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Cannot attach:") {
		t.Error("missing file should be reported")
	}
	if !strings.Contains(out.String(), "Usage: /attach <path>") {
		t.Error("bare /attach should print usage")
	}
}

func TestCLI_ProviderFailurePrintsErrorReply(t *testing.T) {
	c, out := newTestCLI(t, &streamProvider{err: errors.New("upstream unavailable")}, "hello\n/quit\n", domain.ConsultLabTest)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), chat.ErrorReply) {
		t.Errorf("expected error reply in output:\n%s", out.String())
	}
}

// --- blockPrinter ---

func TestBlockPrinter_HoldsLastTwoBlocks(t *testing.T) {
	out := &bytes.Buffer{}
	p := &blockPrinter{render: markdown.RenderText, out: out}

	p.update(markdown.Parse("a\nb"))
	if out.Len() != 0 {
		t.Fatalf("nothing should print with two blocks, got %q", out.String())
	}

	p.update(markdown.Parse("a\nb\nc"))
	if out.String() != "a\n" {
		t.Fatalf("expected first block only, got %q", out.String())
	}

	// "b" becomes a table header once the separator arrives.
	p.update(markdown.Parse("a\n| b | x |\n|---|---|\n| 1 | 2 |"))
	p.finish(markdown.Parse("a\n| b | x |\n|---|---|\n| 1 | 2 |"))
	got := out.String()
	if strings.Count(got, "a\n") != 1 {
		t.Errorf("blocks must print once: %q", got)
	}
	if !strings.Contains(got, "b") || !strings.Contains(got, "1") {
		t.Errorf("table should be printed on finish: %q", got)
	}
}
