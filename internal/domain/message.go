package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Attachment is a file sent alongside a user question. Data is base64 without
// a data-URL prefix.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data,omitempty"`
}

// IsImage reports whether the attachment is an image.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// IsPDF reports whether the attachment is a PDF document.
func (a Attachment) IsPDF() bool {
	return a.MimeType == "application/pdf"
}

type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	IsError    bool        `json:"isError,omitempty"`
}

// NewMessage creates a message with a fresh unique ID.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Content converts the message to a provider turn. The attachment, when
// present, precedes the text. An attachment with no question gets a default
// prompt.
func (m Message) Content() Content {
	c := Content{Role: m.Role}
	text := m.Text
	if m.Attachment != nil && m.Attachment.Data != "" {
		att := *m.Attachment
		c.Parts = append(c.Parts, Part{InlineData: &att})
		if text == "" {
			text = DefaultAttachmentPrompt
		}
	}
	if text != "" {
		c.Parts = append(c.Parts, Part{Text: text})
	}
	return c
}

// DefaultAttachmentPrompt is sent when the user attaches a file without text.
const DefaultAttachmentPrompt = "Please analyze this image."
