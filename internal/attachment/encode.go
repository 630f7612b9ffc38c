// Package attachment turns uploaded files into base64 attachments that can be
// sent inline to a provider, and stores them so a transcript can be replayed.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"mediinterpret/internal/domain"
)

var (
	ErrEmpty           = errors.New("attachment is empty")
	ErrTooLarge        = errors.New("attachment too large")
	ErrUnsupportedType = errors.New("unsupported attachment type")
)

// DefaultMaxBytes caps an attachment when no limit is configured.
const DefaultMaxBytes int64 = 20 << 20

// DefaultAllowed lists the MIME patterns accepted when none are configured.
var DefaultAllowed = []string{"image/*", "application/pdf"}

// Encoder validates and encodes attachments.
type Encoder struct {
	maxBytes int64
	allowed  []string
}

func NewEncoder(maxBytes int64, allowed []string) *Encoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowed
	}
	norm := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			norm = append(norm, a)
		}
	}
	return &Encoder{maxBytes: maxBytes, allowed: norm}
}

// MaxBytes returns the configured size limit.
func (e *Encoder) MaxBytes() int64 { return e.maxBytes }

// Encode sniffs the content type of data and returns it as a base64
// attachment. The sniffed type wins over declared unless the sniffer could
// not tell (application/octet-stream).
func (e *Encoder) Encode(name string, data []byte, declared string) (*domain.Attachment, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), e.maxBytes)
	}

	mt := DetectType(data, declared)
	if !e.Allowed(mt) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mt)
	}

	return &domain.Attachment{
		Name:     filepath.Base(name),
		MimeType: mt,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// FromReader reads at most MaxBytes+1 bytes from r and encodes them.
func (e *Encoder) FromReader(name string, r io.Reader, declared string) (*domain.Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, e.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return e.Encode(name, data, declared)
}

// FromFile encodes a file from disk. The declared type comes from the file
// extension.
func (e *Encoder) FromFile(path string) (*domain.Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	if st, err := f.Stat(); err == nil && st.Size() > e.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, st.Size(), e.maxBytes)
	}
	return e.FromReader(path, f, mime.TypeByExtension(filepath.Ext(path)))
}

// Allowed reports whether a MIME type matches one of the allowed patterns.
// Parameters such as charset are ignored; "image/*" matches any image.
func (e *Encoder) Allowed(mimeType string) bool {
	mt := baseType(mimeType)
	if mt == "" {
		return false
	}
	for _, pattern := range e.allowed {
		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
			if strings.HasPrefix(mt, prefix+"/") {
				return true
			}
			continue
		}
		if mt == pattern {
			return true
		}
	}
	return false
}

// DetectType returns the sniffed MIME type of data, falling back to declared
// when the content is not recognised.
func DetectType(data []byte, declared string) string {
	detected := mimetype.Detect(data)
	if detected.Is("application/octet-stream") {
		if d := baseType(declared); d != "" {
			return d
		}
	}
	return baseType(detected.String())
}

// Extension returns a file extension for a MIME type, including the dot.
func Extension(mimeType string) string {
	if m := mimetype.Lookup(baseType(mimeType)); m != nil {
		return m.Extension()
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func baseType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(s)
}

// Decode returns the raw bytes of an attachment.
func Decode(att *domain.Attachment) ([]byte, error) {
	if att == nil || att.Data == "" {
		return nil, ErrEmpty
	}
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return data, nil
}

// DataURL renders the attachment as a data: URL.
func DataURL(att *domain.Attachment) string {
	return "data:" + att.MimeType + ";base64," + att.Data
}

// ParseDataURL splits a base64 data: URL into an attachment. Browsers send
// uploads this way from FileReader.readAsDataURL.
func ParseDataURL(s string) (*domain.Attachment, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URL")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URL")
	}
	mt, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, fmt.Errorf("data URL is not base64 encoded")
	}
	if data == "" {
		return nil, ErrEmpty
	}
	return &domain.Attachment{MimeType: baseType(mt), Data: data}, nil
}

// FromDataURL decodes a browser data URL and validates it like any other
// upload. The declared type in the URL is only a hint.
func (e *Encoder) FromDataURL(name, s string) (*domain.Attachment, error) {
	att, err := ParseDataURL(s)
	if err != nil {
		return nil, err
	}
	data, err := Decode(att)
	if err != nil {
		return nil, err
	}
	return e.Encode(name, data, att.MimeType)
}
