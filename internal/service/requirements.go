package service

import (
	"fmt"
	"strings"

	"github.com/boddenberg/receptionist-core/internal/domain"
)

// RequirementsEngine turns requested services into the ordered, deduplicated
// list of fields needed to price a quote. It holds no state.
type RequirementsEngine struct{}

// NewRequirementsEngine creates the engine.
func NewRequirementsEngine() *RequirementsEngine {
	return &RequirementsEngine{}
}

// Analyze returns basic fields followed by address fields. Across several
// services a field id appears once: the first declaration wins and the
// field is required if any service requires it.
func (e *RequirementsEngine) Analyze(services []domain.Service) []domain.RequirementSpec {
	var basic, address []domain.RequirementSpec
	type slot struct {
		address bool
		pos     int
	}
	index := make(map[string]slot)

	for _, svc := range services {
		for _, f := range svc.Fields {
			id := strings.TrimSpace(f.Field)
			if id == "" {
				continue
			}
			if at, ok := index[id]; ok {
				if at.address {
					address[at.pos].Required = address[at.pos].Required || f.Required
				} else {
					basic[at.pos].Required = basic[at.pos].Required || f.Required
				}
				continue
			}

			spec := domain.RequirementSpec{
				Field:    id,
				Required: f.Required,
				Kind:     f.Kind,
				Label:    f.Label,
				Question: f.Question,
				Options:  f.Options,
			}
			if spec.Kind == domain.FieldAddress {
				index[id] = slot{address: true, pos: len(address)}
				address = append(address, spec)
			} else {
				spec.Kind = domain.FieldBasic
				index[id] = slot{pos: len(basic)}
				basic = append(basic, spec)
			}
		}
	}

	out := make([]domain.RequirementSpec, 0, len(basic)+len(address))
	out = append(out, basic...)
	return append(out, address...)
}

// GenerateQuestions maps each required spec, in order, to one prompt.
func (e *RequirementsEngine) GenerateQuestions(specs []domain.RequirementSpec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		if s.Required {
			out = append(out, QuestionFor(s))
		}
	}
	return out
}

// QuestionFor returns the prompt for a single field.
func QuestionFor(s domain.RequirementSpec) string {
	if q := strings.TrimSpace(s.Question); q != "" {
		return q
	}

	label := s.Label
	if label == "" {
		label = strings.ReplaceAll(s.Field, "_", " ")
	}

	switch {
	case s.Field == "job_scope":
		return "Can you briefly describe the job you need done?"
	case s.Field == "service_address" || s.Kind == domain.FieldAddress:
		return fmt.Sprintf("What is the %s?", label)
	case isCountField(s.Field):
		return fmt.Sprintf("How many %s are there?", countNoun(label))
	case len(s.Options) > 0:
		return fmt.Sprintf("Which %s would you like: %s?", label, joinOptions(s.Options))
	default:
		return fmt.Sprintf("Could you tell me the %s?", label)
	}
}

func countNoun(label string) string {
	for _, prefix := range []string{"number of ", "count of ", "quantity of "} {
		if rest, ok := strings.CutPrefix(strings.ToLower(label), prefix); ok {
			return rest
		}
	}
	for _, suffix := range []string{" count", " number", " quantity"} {
		if rest, ok := strings.CutSuffix(strings.ToLower(label), suffix); ok {
			return rest
		}
	}
	return label
}

func joinOptions(opts []string) string {
	switch len(opts) {
	case 0:
		return ""
	case 1:
		return opts[0]
	default:
		return strings.Join(opts[:len(opts)-1], ", ") + " or " + opts[len(opts)-1]
	}
}
