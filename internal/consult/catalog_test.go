package consult

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediinterpret/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDefault_Order(t *testing.T) {
	got := Default().Types()
	want := []domain.ConsultationType{
		domain.ConsultImaging, domain.ConsultLabTest, domain.ConsultDecision, domain.ConsultMedication,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d categories, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestDefault_EveryCategoryIsComplete(t *testing.T) {
	for _, cat := range Default().List() {
		if cat.Title == "" || cat.Description == "" || cat.Icon == "" || cat.Welcome == "" {
			t.Errorf("%s: missing landing copy: %+v", cat.Type, cat)
		}
		if len(cat.Suggestions) != 4 {
			t.Errorf("%s: expected 4 suggestions, got %d", cat.Type, len(cat.Suggestions))
		}
		if cat.Role == "" {
			t.Errorf("%s: missing role preamble", cat.Type)
		}
	}
}

func TestSystemInstruction_IncludesSharedBlocks(t *testing.T) {
	c := Default()
	for _, typ := range c.Types() {
		got := c.SystemInstruction(typ)
		if !strings.Contains(got, "CRITICAL SAFETY & DISCLAIMER PROTOCOL") {
			t.Errorf("%s: missing disclaimer", typ)
		}
		if !strings.Contains(got, "Tone and Style") {
			t.Errorf("%s: missing formatting block", typ)
		}
	}
	if !strings.HasPrefix(c.SystemInstruction(domain.ConsultImaging), "You are an expert Radiologist") {
		t.Fatal("imaging instruction should start with the radiologist preamble")
	}
	if !strings.HasPrefix(c.SystemInstruction(domain.ConsultMedication), "You are an expert Clinical Pharmacist") {
		t.Fatal("medication instruction should start with the pharmacist preamble")
	}
}

func TestSystemInstruction_UnknownFallsBackToLabTest(t *testing.T) {
	c := Default()
	want := c.SystemInstruction(domain.ConsultLabTest)
	if got := c.SystemInstruction("unknown"); got != want {
		t.Fatal("unknown type should use the lab test instruction")
	}
	if got := c.SystemInstruction(""); got != want {
		t.Fatal("empty type should use the lab test instruction")
	}
	if c.Welcome("nope") != c.Welcome(domain.ConsultLabTest) {
		t.Fatal("unknown type should use the lab test welcome")
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.ConsultationType
		wantErr bool
	}{
		{"imaging", domain.ConsultImaging, false},
		{" Lab_Test ", domain.ConsultLabTest, false},
		{"lab-test", domain.ConsultLabTest, false},
		{"DECISION", domain.ConsultDecision, false},
		{"medication", domain.ConsultMedication, false},
		{"", "", true},
		{"surgery", "", true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyYAML_MergesFields(t *testing.T) {
	c := Default()
	err := c.ApplyYAML([]byte(`
formatting: "Answer in short bullet points."
categories:
  imaging:
    title: Radiology Reports
    suggestions:
      - "Is this urgent?"
`))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	img, _ := c.Lookup(domain.ConsultImaging)
	if img.Title != "Radiology Reports" {
		t.Fatalf("title not overridden: %q", img.Title)
	}
	if len(img.Suggestions) != 1 || img.Suggestions[0] != "Is this urgent?" {
		t.Fatalf("suggestions not overridden: %v", img.Suggestions)
	}
	if img.Description != "Interpretation of CT, MRI, Ultrasound, and X-Ray reports." {
		t.Fatal("unspecified fields should keep built-in values")
	}

	instr := c.SystemInstruction(domain.ConsultImaging)
	if !strings.HasSuffix(instr, "Answer in short bullet points.") {
		t.Fatalf("formatting block not replaced: %q", instr)
	}
	if !strings.Contains(instr, "CRITICAL SAFETY") {
		t.Fatal("disclaimer should be kept when not overridden")
	}
}

func TestApplyYAML_EmptyDisclaimerRemovesBlock(t *testing.T) {
	c := Default()
	if err := c.ApplyYAML([]byte(`disclaimer: ""`)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if strings.Contains(c.SystemInstruction(domain.ConsultDecision), "CRITICAL SAFETY") {
		t.Fatal("explicitly empty disclaimer should be dropped")
	}
}

func TestApplyYAML_UnknownCategory(t *testing.T) {
	c := Default()
	if err := c.ApplyYAML([]byte("categories:\n  dentistry:\n    title: Teeth\n")); err == nil {
		t.Fatal("expected error for unknown category key")
	}
}

func TestApplyYAML_InvalidYAML(t *testing.T) {
	if err := Default().ApplyYAML([]byte("categories: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.List()) != 4 {
		t.Fatalf("expected built-in categories, got %d", len(c.List()))
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := "categories:\n  medication:\n    welcome: \"Hi, ask about any **drug**.\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.Welcome(domain.ConsultMedication); got != "Hi, ask about any **drug**." {
		t.Fatalf("unexpected welcome %q", got)
	}
}

func TestDefault_IsIndependent(t *testing.T) {
	a := Default()
	if err := a.ApplyYAML([]byte("categories:\n  decision:\n    title: Changed\n")); err != nil {
		t.Fatal(err)
	}
	b := Default()
	if b.Get(domain.ConsultDecision).Title != "Medical Decision" {
		t.Fatal("overrides must not leak into a fresh default catalog")
	}
}
