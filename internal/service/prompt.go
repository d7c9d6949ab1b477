package service

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/port"
)

var _ port.PromptRenderer = (*TemplateRenderer)(nil)

const defaultInstructions = `You are the phone receptionist for {{.Business.Name}}.
{{- if .Business.Greeting}}
Greet the caller with: "{{.Business.Greeting}}"
{{- end}}
Today is {{.LocalNow.Format "Monday 2 January 2006"}}, local time {{.LocalNow.Format "3:04 PM"}} ({{.Zone}}).
{{- if .CallerNumber}}
The caller is phoning from {{.CallerNumber}}.
{{- end}}

Keep replies short and natural; this is a voice call. Ask one question at a time.

Services offered:
{{- range .Business.Services}}
- {{.Name}} (id: {{.ID}}){{if .Description}}: {{.Description}}{{end}}{{if gt .BasePrice 0.0}}, from {{money .BasePrice $.Business.Currency}}{{end}}
{{- end}}
{{if .Permits "start_quote"}}
When the caller wants a price, call start_quote with the matching service ids, then relay each question and pass every answer to answer_quote_question. Never invent prices.
{{- end}}
{{- if .Permits "check_availability"}}
Use check_availability and book_slot to arrange appointments.
{{- end}}
{{- if .Permits "escalate_to_human"}}
If the caller asks for a person or you cannot help, call escalate_to_human.
{{- end}}
{{- if and .IncludeFAQs .Business.FAQs}}

Frequently asked questions:
{{- range .Business.FAQs}}
Q: {{.Question}}
A: {{.Answer}}
{{- end}}
{{- end}}
`

// TemplateRenderer renders system instructions from a text/template.
type TemplateRenderer struct {
	tmpl *template.Template
}

// NewTemplateRenderer parses src, or the built-in template when src is
// empty.
func NewTemplateRenderer(src string) (*TemplateRenderer, error) {
	if strings.TrimSpace(src) == "" {
		src = defaultInstructions
	}
	tmpl, err := template.New("instructions").Funcs(template.FuncMap{
		"money": func(v float64, currency string) string {
			return fmt.Sprintf("%.2f %s", v, strings.ToUpper(currency))
		},
	}).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse instructions template: %w", err)
	}
	return &TemplateRenderer{tmpl: tmpl}, nil
}

type promptData struct {
	Business     *domain.BusinessContext
	LocalNow     time.Time
	Zone         string
	CallerNumber string
	IncludeFAQs  bool
}

func (d promptData) Permits(tool string) bool {
	return d.Business.Permits(domain.ToolName(tool))
}

// Render implements port.PromptRenderer.
func (r *TemplateRenderer) Render(bc *domain.BusinessContext, opts port.RenderOptions) (string, error) {
	if bc == nil {
		return "", &domain.ErrValidation{Field: "business_context", Message: "is required"}
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	loc := time.UTC
	if bc.Timezone != "" {
		if l, err := time.LoadLocation(bc.Timezone); err == nil {
			loc = l
		}
	}

	var b strings.Builder
	err := r.tmpl.Execute(&b, promptData{
		Business:     bc,
		LocalNow:     now.In(loc),
		Zone:         loc.String(),
		CallerNumber: opts.CallerNumber,
		IncludeFAQs:  opts.IncludeFAQs,
	})
	if err != nil {
		return "", fmt.Errorf("render instructions: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
