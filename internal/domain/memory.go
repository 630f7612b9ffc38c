package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a consultation or attachment does not exist.
var ErrNotFound = errors.New("not found")

// ConsultationStore persists consultations and their messages.
type ConsultationStore interface {
	CreateConsultation(ctx context.Context, c Consultation) error
	GetConsultation(ctx context.Context, id string) (*Consultation, error)
	ListConsultations(ctx context.Context, limit int) ([]Consultation, error)
	UpdateConsultation(ctx context.Context, c Consultation) error
	TouchConsultation(ctx context.Context, id string) error
	DeleteConsultation(ctx context.Context, id string) error

	AddMessage(ctx context.Context, consultationID string, msg Message) error
	UpdateMessage(ctx context.Context, msg Message) error
	DeleteMessage(ctx context.Context, id string) error
	GetMessages(ctx context.Context, consultationID string, limit int) ([]Message, error)

	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// AttachmentStore keeps uploaded file bytes so history can be replayed.
type AttachmentStore interface {
	Save(ctx context.Context, consultationID string, att *Attachment) error
	Load(ctx context.Context, id string) (*Attachment, error)
}
