// Package export renders consultation transcripts to standalone HTML and
// prints them to PDF through headless Chrome.
package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"mediinterpret/internal/attachment"
	"mediinterpret/internal/domain"
	"mediinterpret/internal/markdown"
)

// Transcript is the input for rendering.
type Transcript struct {
	Consultation domain.Consultation
	Category     string // display title of the consultation category
	Messages     []domain.Message
	GeneratedAt  time.Time
}

type pageMessage struct {
	Role      string
	Label     string
	Body      template.HTML
	Time      string
	IsError   bool
	ImageURL  template.URL
	FileName  string
	FileIsPDF bool
}

type pageData struct {
	Title       string
	Category    string
	ID          string
	Started     string
	GeneratedAt string
	Messages    []pageMessage
	Disclaimer  string
}

const disclaimer = "This transcript was produced by an AI assistant for informational purposes only. It is not a medical diagnosis. Always consult your healthcare provider."

var transcriptTmpl = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; color: #1e293b; margin: 32px; font-size: 13px; line-height: 1.5; }
header { border-bottom: 2px solid #e2e8f0; margin-bottom: 20px; padding-bottom: 12px; }
header h1 { font-size: 20px; margin: 0 0 4px; }
header .meta { color: #64748b; font-size: 11px; }
.msg { margin: 0 0 14px; padding: 10px 14px; border-radius: 10px; page-break-inside: avoid; }
.msg.user { background: #eff6ff; margin-left: 15%; }
.msg.model { background: #f8fafc; border: 1px solid #e2e8f0; margin-right: 15%; }
.msg.error { background: #fef2f2; border-color: #fecaca; color: #b91c1c; }
.msg .who { font-size: 10px; font-weight: 600; text-transform: uppercase; color: #64748b; margin-bottom: 4px; }
.msg img { max-width: 100%; max-height: 320px; border-radius: 6px; margin-bottom: 6px; }
.file { display: inline-block; font-size: 11px; padding: 2px 8px; border-radius: 6px; background: #e2e8f0; margin-bottom: 6px; }
.md-h2 { font-size: 16px; margin: 10px 0 4px; }
.md-h3 { font-size: 14px; margin: 8px 0 4px; }
.md-spacer { height: 6px; }
.md-bullet, .md-num { display: flex; gap: 6px; margin-left: 6px; }
.md-num-label { font-weight: 600; }
.md-table table { border-collapse: collapse; width: 100%; margin: 6px 0; }
.md-table th, .md-table td { border: 1px solid #cbd5e1; padding: 4px 6px; text-align: left; }
.md-table th { background: #f1f5f9; }
footer { margin-top: 24px; font-size: 10px; color: #94a3b8; border-top: 1px solid #e2e8f0; padding-top: 8px; }
</style>
</head>
<body>
<header>
<h1>{{.Title}}</h1>
<div class="meta">{{.Category}} &middot; started {{.Started}} &middot; exported {{.GeneratedAt}} &middot; {{.ID}}</div>
</header>
{{range .Messages}}<div class="msg {{.Role}}{{if .IsError}} error{{end}}">
<div class="who">{{.Label}} &middot; {{.Time}}</div>
{{if .ImageURL}}<img src="{{.ImageURL}}" alt="{{.FileName}}">
{{else if .FileName}}<div class="file">{{if .FileIsPDF}}PDF: {{end}}{{.FileName}}</div>
{{end}}{{.Body}}
</div>
{{end}}<footer>{{.Disclaimer}}</footer>
</body>
</html>
`))

// RenderHTML builds a self-contained HTML document for the transcript.
// Message text goes through the markdown block renderer; image attachments
// are inlined as data URLs.
func RenderHTML(t Transcript) ([]byte, error) {
	if t.GeneratedAt.IsZero() {
		t.GeneratedAt = time.Now()
	}
	title := t.Consultation.Title
	if title == "" {
		title = "Consultation"
	}
	data := pageData{
		Title:       title,
		Category:    t.Category,
		ID:          t.Consultation.ID,
		Started:     formatTime(t.Consultation.CreatedAt),
		GeneratedAt: formatTime(t.GeneratedAt),
		Disclaimer:  disclaimer,
	}

	for _, m := range t.Messages {
		pm := pageMessage{
			Role:    string(m.Role),
			Label:   "You",
			Body:    template.HTML(markdown.RenderHTML(markdown.Parse(m.Text))),
			Time:    m.Timestamp.Format("15:04"),
			IsError: m.IsError,
		}
		if m.Role == domain.RoleModel {
			pm.Label = "Assistant"
		}
		if att := m.Attachment; att != nil {
			pm.FileName = att.Name
			pm.FileIsPDF = att.IsPDF()
			if pm.FileName == "" {
				pm.FileName = att.MimeType
			}
			if att.IsImage() && att.Data != "" {
				pm.ImageURL = template.URL(attachment.DataURL(att))
			}
		}
		data.Messages = append(data.Messages, pm)
	}

	var buf bytes.Buffer
	if err := transcriptTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render transcript: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
