// Package consult holds the consultation categories: their landing copy,
// welcome message, suggested questions and system instruction.
package consult

import (
	"fmt"
	"strings"

	"mediinterpret/internal/domain"
)

// DefaultType is used when a category is missing or unknown.
const DefaultType = domain.ConsultLabTest

// Category describes one consultation type.
type Category struct {
	Type        domain.ConsultationType `json:"type" yaml:"type"`
	Title       string                  `json:"title" yaml:"title"`
	Description string                  `json:"description" yaml:"description"`
	Icon        string                  `json:"icon" yaml:"icon"`
	Accent      string                  `json:"accent" yaml:"accent"`
	Welcome     string                  `json:"welcome" yaml:"welcome"`
	Suggestions []string                `json:"suggestions" yaml:"suggestions"`
	Role        string                  `json:"-" yaml:"role"`
}

// Catalog is an ordered set of categories plus the shared prompt blocks.
// It is immutable after construction and safe for concurrent reads.
type Catalog struct {
	order      []domain.ConsultationType
	categories map[domain.ConsultationType]Category
	disclaimer string
	formatting string
}

// Default returns the built-in catalog in landing-page order.
func Default() *Catalog {
	cats := []Category{
		{
			Type:        domain.ConsultImaging,
			Title:       "Imaging & Radiology",
			Description: "Interpretation of CT, MRI, Ultrasound, and X-Ray reports.",
			Icon:        "fa-solid fa-x-ray",
			Accent:      "blue",
			Welcome:     "Hello. I am your **AI Imaging Consultant**.\n\nPlease upload a clear photo or **PDF** of your **CT, MRI, Ultrasound, or X-Ray report**, or copy the findings here. I'll help you understand the radiological terms.",
			Suggestions: []string{
				"What does 'unremarkable' mean?",
				"Explain the findings in simple terms.",
				"Are there any concerning nodules?",
				"What is the difference between T1 and T2?",
			},
			Role: imagingRole,
		},
		{
			Type:        domain.ConsultLabTest,
			Title:       "Lab Test Analysis",
			Description: "Detailed breakdown of blood work, urinalysis, and pathology.",
			Icon:        "fa-solid fa-flask-vial",
			Accent:      "emerald",
			Welcome:     "Hello. I am your **AI Lab Interpreter**.\n\nPlease upload a photo or **PDF** of your **blood test or lab report**, or type in your values. I'll explain what the results mean.",
			Suggestions: []string{
				"Are my values within normal range?",
				"What does a high result mean here?",
				"How can I improve these results?",
				"Is this related to dehydration?",
			},
			Role: labTestRole,
		},
		{
			Type:        domain.ConsultDecision,
			Title:       "Medical Decision",
			Description: "Support for treatment options, surgery vs. conservative care.",
			Icon:        "fa-solid fa-scale-balanced",
			Accent:      "violet",
			Welcome:     "Hello. I am your **AI Medical Decision Support**.\n\nI can help you weigh the **pros and cons** of different treatments or explain specific procedures. What decision are you facing today?",
			Suggestions: []string{
				"What are the risks of this surgery?",
				"What are non-surgical alternatives?",
				"What is the typical recovery time?",
				"Success rate of this procedure?",
			},
			Role: decisionRole,
		},
		{
			Type:        domain.ConsultMedication,
			Title:       "Medication & Safety",
			Description: "Drug interactions, side effects, and dosage guidelines.",
			Icon:        "fa-solid fa-pills",
			Accent:      "rose",
			Welcome:     "Hello. I am your **AI Medication Assistant**.\n\nI can check for **drug interactions**, explain **side effects**, or clarify dosage instructions. What medication are you asking about?",
			Suggestions: []string{
				"Can I take this with Ibuprofen?",
				"What are common side effects?",
				"Best time of day to take this?",
				"Does this interact with alcohol?",
			},
			Role: medicationRole,
		},
	}

	c := &Catalog{
		categories: make(map[domain.ConsultationType]Category, len(cats)),
		disclaimer: baseDisclaimer,
		formatting: baseFormatting,
	}
	for _, cat := range cats {
		c.order = append(c.order, cat.Type)
		c.categories[cat.Type] = cat
	}
	return c
}

// ParseType validates a category identifier. Matching ignores case and
// surrounding whitespace; "lab-test" is accepted for lab_test.
func ParseType(s string) (domain.ConsultationType, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch t := domain.ConsultationType(norm); t {
	case domain.ConsultImaging, domain.ConsultLabTest, domain.ConsultDecision, domain.ConsultMedication:
		return t, nil
	}
	return "", fmt.Errorf("unknown consultation type %q", s)
}

// List returns categories in display order.
func (c *Catalog) List() []Category {
	out := make([]Category, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, c.categories[t])
	}
	return out
}

// Lookup returns the category for t, if known.
func (c *Catalog) Lookup(t domain.ConsultationType) (Category, bool) {
	cat, ok := c.categories[t]
	return cat, ok
}

// Get returns the category for t, falling back to DefaultType.
func (c *Catalog) Get(t domain.ConsultationType) Category {
	if cat, ok := c.categories[t]; ok {
		return cat
	}
	return c.categories[DefaultType]
}

// SystemInstruction composes the role preamble with the shared safety and
// formatting blocks.
func (c *Catalog) SystemInstruction(t domain.ConsultationType) string {
	parts := []string{strings.TrimSpace(c.Get(t).Role)}
	if c.disclaimer != "" {
		parts = append(parts, strings.TrimSpace(c.disclaimer))
	}
	if c.formatting != "" {
		parts = append(parts, strings.TrimSpace(c.formatting))
	}
	return strings.Join(parts, "\n\n")
}

// Welcome returns the opening model message text for t.
func (c *Catalog) Welcome(t domain.ConsultationType) string {
	return c.Get(t).Welcome
}

// Suggestions returns the suggested questions for t.
func (c *Catalog) Suggestions(t domain.ConsultationType) []string {
	return c.Get(t).Suggestions
}
