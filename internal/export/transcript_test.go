package export

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"mediinterpret/internal/domain"
)

func sampleTranscript() Transcript {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return Transcript{
		Consultation: domain.Consultation{
			ID:        "c-1",
			Type:      domain.ConsultLabTest,
			Title:     "Is my TSH fine?",
			CreatedAt: ts,
		},
		Category: "Lab Test Analysis",
		Messages: []domain.Message{
			{ID: "1", Role: domain.RoleModel, Text: "Hello. I am your **AI Lab Interpreter**.", Timestamp: ts},
			{ID: "2", Role: domain.RoleUser, Text: "Is <b>this</b> fine?", Timestamp: ts,
				Attachment: &domain.Attachment{Name: "scan.png", MimeType: "image/png", Data: "iVBORw0KGgo="}},
			{ID: "3", Role: domain.RoleModel, Text: "| Test | Value |\n|---|---|\n| TSH | **2.1** |", Timestamp: ts},
			{ID: "4", Role: domain.RoleModel, Text: "I apologize", IsError: true, Timestamp: ts},
		},
		GeneratedAt: ts,
	}
}

func TestRenderHTML_Document(t *testing.T) {
	out, err := RenderHTML(sampleTranscript())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	doc := string(out)

	checks := []string{
		"<title>Is my TSH fine?</title>",
		"Lab Test Analysis",
		"<strong>AI Lab Interpreter</strong>",
		`<div class="md-table"><table>`,
		"<th>Test</th>",
		`src="data:image/png;base64,iVBORw0KGgo="`,
		`class="msg model error"`,
		"2026-03-01 09:30",
	}
	for _, want := range checks {
		if !strings.Contains(doc, want) {
			t.Errorf("expected document to contain %q", want)
		}
	}
	if strings.Contains(doc, "<b>this</b>") {
		t.Fatal("message text must be escaped")
	}
}

func TestRenderHTML_PDFAttachmentChip(t *testing.T) {
	tr := sampleTranscript()
	tr.Messages = []domain.Message{{
		Role:       domain.RoleUser,
		Attachment: &domain.Attachment{Name: "report.pdf", MimeType: "application/pdf", Data: "JVBERi0="},
	}}
	out, err := RenderHTML(tr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "PDF: report.pdf") {
		t.Fatal("pdf attachment should be listed by name")
	}
	if strings.Contains(string(out), "<img") {
		t.Fatal("pdf attachment must not be rendered as an image")
	}
}

func TestRenderHTML_DefaultTitle(t *testing.T) {
	out, _ := RenderHTML(Transcript{})
	if !strings.Contains(string(out), "<title>Consultation</title>") {
		t.Fatal("empty title should fall back to Consultation")
	}
}

func TestPrintHTML_WithChrome(t *testing.T) {
	found := false
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			found = true
			break
		}
	}
	if !found || testing.Short() {
		t.Skip("chrome not available")
	}

	e := NewPDFExporter(PDFConfig{ProfileDir: t.TempDir(), Headless: true, Timeout: 30 * time.Second})
	pdf, err := e.Transcript(context.Background(), sampleTranscript())
	if err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.HasPrefix(string(pdf), "%PDF") {
		t.Fatal("output is not a pdf")
	}
}
