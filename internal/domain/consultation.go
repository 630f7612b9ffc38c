package domain

import "time"

// ConsultationType selects the system instruction and welcome text.
type ConsultationType string

const (
	ConsultImaging    ConsultationType = "imaging"
	ConsultLabTest    ConsultationType = "lab_test"
	ConsultDecision   ConsultationType = "decision"
	ConsultMedication ConsultationType = "medication"
)

// Consultation is one chat session bound to a category.
type Consultation struct {
	ID        string           `json:"id"`
	Type      ConsultationType `json:"type"`
	Channel   string           `json:"channel"`
	Title     string           `json:"title"`
	Provider  string           `json:"provider,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
