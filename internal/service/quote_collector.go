package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/boddenberg/receptionist-core/internal/domain"
)

const fallbackPrefix = "Sorry, I didn't quite catch that. "

// QuoteCollector walks a caller through the fields a quote needs, one
// question at a time. It is pure: every call returns a new QuoteSession and
// leaves its input untouched.
type QuoteCollector struct {
	engine    *RequirementsEngine
	extractor Extractor
}

// NewQuoteCollector creates a collector. A nil extractor uses
// KeywordExtractor.
func NewQuoteCollector(engine *RequirementsEngine, extractor Extractor) *QuoteCollector {
	if engine == nil {
		engine = NewRequirementsEngine()
	}
	if extractor == nil {
		extractor = KeywordExtractor{}
	}
	return &QuoteCollector{engine: engine, extractor: extractor}
}

// StartQuote begins collection. With no service ids the caller is offered
// the business's services. Unknown ids are dropped; if none remain the
// result carries an error and no session. prior pre-fills answers already
// given earlier in the call.
func (c *QuoteCollector) StartQuote(bc *domain.BusinessContext, serviceIDs []string, prior map[string]string) domain.StartQuoteResult {
	available := bc.Summaries()

	if len(serviceIDs) == 0 {
		if len(available) == 0 {
			return domain.StartQuoteResult{Error: "this business has no quotable services"}
		}
		qs := &domain.QuoteSession{CollectedInfo: map[string]string{}}
		qs.Recompute()
		return domain.StartQuoteResult{
			NeedsMoreInfo:     true,
			NextQuestion:      selectionQuestion(available),
			AvailableServices: available,
			Session:           qs,
		}
	}

	var (
		ids      []string
		services []domain.Service
		seen     = make(map[string]struct{})
	)
	for _, id := range serviceIDs {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup {
			continue
		}
		if svc, ok := bc.ServiceByID(id); ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
			services = append(services, svc)
		}
	}
	if len(services) == 0 {
		return domain.StartQuoteResult{
			NeedsMoreInfo:     true,
			Error:             "none of the requested services are offered",
			AvailableServices: available,
		}
	}

	qs := &domain.QuoteSession{
		ServiceIDs:    ids,
		Requirements:  c.engine.Analyze(services),
		CollectedInfo: map[string]string{},
	}
	for _, r := range qs.Requirements {
		if v := strings.TrimSpace(prior[r.Field]); v != "" {
			qs.CollectedInfo[r.Field] = v
		}
	}
	qs.Recompute()

	res := domain.StartQuoteResult{Session: qs}
	if len(qs.MissingRequirements) > 0 {
		res.NeedsMoreInfo = true
		res.NextQuestion = c.nextQuestion(qs)
		return res
	}
	qs.Quote = Price(bc, qs)
	return res
}

// ProcessResponse applies one answer. Extraction only touches missing
// fields; the missing list is then recomputed over every requirement.
func (c *QuoteCollector) ProcessResponse(bc *domain.BusinessContext, qs *domain.QuoteSession, text string) domain.ProcessResult {
	updated := cloneQuote(qs)
	updated.Recompute()

	switch updated.CurrentStep {
	case domain.StepServiceSelection:
		return domain.ProcessResult{
			NeedsMoreInfo:  true,
			NextQuestion:   selectionQuestion(bc.Summaries()),
			UpdatedSession: updated,
		}
	case domain.StepQuoteGeneration:
		if updated.Quote == nil {
			updated.Quote = Price(bc, updated)
		}
		return domain.ProcessResult{ReadyForQuote: true, UpdatedSession: updated}
	}

	extracted := c.extractor.Extract(text, updated)
	var fields []string
	for _, field := range updated.MissingRequirements {
		if v, ok := extracted[field]; ok && strings.TrimSpace(v) != "" {
			updated.CollectedInfo[field] = strings.TrimSpace(v)
			fields = append(fields, field)
		}
	}
	updated.Recompute()

	if updated.CurrentStep == domain.StepQuoteGeneration {
		updated.Quote = Price(bc, updated)
		return domain.ProcessResult{ReadyForQuote: true, Extracted: fields, UpdatedSession: updated}
	}

	next := c.nextQuestion(updated)
	if len(fields) == 0 {
		next = fallbackPrefix + next
	}
	return domain.ProcessResult{
		NeedsMoreInfo:  true,
		NextQuestion:   next,
		Extracted:      fields,
		UpdatedSession: updated,
	}
}

// nextQuestion asks for the first missing field in requirement order.
func (c *QuoteCollector) nextQuestion(qs *domain.QuoteSession) string {
	if len(qs.MissingRequirements) == 0 {
		return ""
	}
	spec, _ := qs.Requirement(qs.MissingRequirements[0])
	return QuestionFor(spec)
}

// Price computes the quote: base price plus unit price times the value of
// the service's unit field.
func Price(bc *domain.BusinessContext, qs *domain.QuoteSession) *domain.Quote {
	q := &domain.Quote{Currency: bc.Currency}
	for _, id := range qs.ServiceIDs {
		svc, ok := bc.ServiceByID(id)
		if !ok {
			continue
		}
		line := domain.QuoteLine{ServiceID: svc.ID, Name: svc.Name, Amount: svc.BasePrice}
		if svc.UnitField != "" && svc.UnitPrice > 0 {
			if units, err := strconv.Atoi(strings.TrimSpace(qs.CollectedInfo[svc.UnitField])); err == nil && units > 0 {
				line.Units = units
				line.Amount += svc.UnitPrice * float64(units)
			}
		}
		line.Amount = roundCents(line.Amount)
		q.Lines = append(q.Lines, line)
		q.Total += line.Amount
	}
	q.Total = roundCents(q.Total)
	return q
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func selectionQuestion(services []domain.ServiceSummary) string {
	names := make([]string, 0, len(services))
	for _, s := range services {
		names = append(names, s.Name)
	}
	return fmt.Sprintf("Which service are you interested in: %s?", joinOptions(names))
}

func cloneQuote(qs *domain.QuoteSession) *domain.QuoteSession {
	if qs == nil {
		return &domain.QuoteSession{CollectedInfo: map[string]string{}}
	}
	c := *qs
	c.ServiceIDs = append([]string(nil), qs.ServiceIDs...)
	c.Requirements = append([]domain.RequirementSpec(nil), qs.Requirements...)
	c.MissingRequirements = append([]string(nil), qs.MissingRequirements...)
	c.CollectedInfo = make(map[string]string, len(qs.CollectedInfo))
	for k, v := range qs.CollectedInfo {
		c.CollectedInfo[k] = v
	}
	if qs.Quote != nil {
		q := *qs.Quote
		q.Lines = append([]domain.QuoteLine(nil), qs.Quote.Lines...)
		c.Quote = &q
	}
	return &c
}
