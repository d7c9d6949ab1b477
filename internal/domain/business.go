package domain

import "strings"

// ============================================================
// Business context: resolved once per call and denormalized
// into the session.
// ============================================================

// FieldKind classifies a quote requirement field.
type FieldKind string

const (
	FieldBasic   FieldKind = "basic"
	FieldAddress FieldKind = "address"
)

// FieldDefinition declares one piece of information a service needs
// before it can be quoted.
type FieldDefinition struct {
	Field    string    `json:"field" toml:"field"`
	Label    string    `json:"label,omitempty" toml:"label"`
	Kind     FieldKind `json:"kind" toml:"kind"`
	Required bool      `json:"required" toml:"required"`
	Question string    `json:"question,omitempty" toml:"question"`
	Options  []string  `json:"options,omitempty" toml:"options"`
}

// Service is one bookable, quotable offering of a business.
type Service struct {
	ID          string            `json:"id" toml:"id"`
	Name        string            `json:"name" toml:"name"`
	Description string            `json:"description,omitempty" toml:"description"`
	BasePrice   float64           `json:"base_price" toml:"base_price"`
	UnitPrice   float64           `json:"unit_price,omitempty" toml:"unit_price"`
	UnitField   string            `json:"unit_field,omitempty" toml:"unit_field"`
	Fields      []FieldDefinition `json:"fields" toml:"fields"`
}

// FAQ is a canned question/answer pair.
type FAQ struct {
	Question string   `json:"question" toml:"question"`
	Answer   string   `json:"answer" toml:"answer"`
	Keywords []string `json:"keywords,omitempty" toml:"keywords"`
}

// BusinessContext is the business profile the core needs to handle a call.
type BusinessContext struct {
	BusinessID       string     `json:"business_id" toml:"id"`
	Name             string     `json:"name" toml:"name"`
	Timezone         string     `json:"timezone" toml:"timezone"`
	Greeting         string     `json:"greeting,omitempty" toml:"greeting"`
	PhoneNumbers     []string   `json:"phone_numbers,omitempty" toml:"phone_numbers"`
	EscalationNumber string     `json:"escalation_number,omitempty" toml:"escalation_number"`
	Currency         string     `json:"currency,omitempty" toml:"currency"`
	Services         []Service  `json:"services" toml:"services"`
	FAQs             []FAQ      `json:"faqs,omitempty" toml:"faqs"`
	Tools            []ToolName `json:"tools" toml:"tools"`
}

// ServiceByID looks up a service.
func (b *BusinessContext) ServiceByID(id string) (Service, bool) {
	for _, s := range b.Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}

// Permits reports whether the business enabled the tool.
func (b *BusinessContext) Permits(name ToolName) bool {
	for _, t := range b.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// ServiceSummary is the caller-facing view of a selectable service.
type ServiceSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

const businessRefPrefix = "business:"

// BusinessRef is the identifier form that names a business directly rather
// than through one of its phone numbers.
func BusinessRef(businessID string) string {
	return businessRefPrefix + businessID
}

// ParseBusinessRef extracts the business id from a BusinessRef.
func ParseBusinessRef(identifier string) (string, bool) {
	id, ok := strings.CutPrefix(identifier, businessRefPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// NormalizePhone strips formatting so "+61 (2) 9999-0000" and
// "+61299990000" compare equal.
func NormalizePhone(v string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(v) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Summaries lists the business's services for selection.
func (b *BusinessContext) Summaries() []ServiceSummary {
	out := make([]ServiceSummary, 0, len(b.Services))
	for _, s := range b.Services {
		out = append(out, ServiceSummary{ID: s.ID, Name: s.Name, Description: s.Description})
	}
	return out
}
