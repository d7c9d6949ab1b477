package domain

import "strings"

// ============================================================
// Quote collection
// ============================================================

// QuoteStep is the Adaptive Quote Collector's position.
type QuoteStep string

const (
	StepServiceSelection QuoteStep = "service-selection"
	StepInfoCollection   QuoteStep = "info-collection"
	StepQuoteGeneration  QuoteStep = "quote-generation"
)

// RequirementSpec is one data field needed to price a quote.
type RequirementSpec struct {
	Field    string    `json:"field"`
	Required bool      `json:"required"`
	Kind     FieldKind `json:"kind"`
	Label    string    `json:"label,omitempty"`
	Question string    `json:"question,omitempty"`
	Options  []string  `json:"options,omitempty"`
}

// QuoteLine is the priced contribution of one service.
type QuoteLine struct {
	ServiceID string  `json:"service_id"`
	Name      string  `json:"name"`
	Units     int     `json:"units,omitempty"`
	Amount    float64 `json:"amount"`
}

// Quote is the priced result once every required field is known.
type Quote struct {
	Lines    []QuoteLine `json:"lines"`
	Total    float64     `json:"total"`
	Currency string      `json:"currency"`
}

// QuoteSession is the collector sub-state owned by one Session.
type QuoteSession struct {
	ServiceIDs          []string          `json:"service_ids"`
	Requirements        []RequirementSpec `json:"requirements"`
	CollectedInfo       map[string]string `json:"collected_info"`
	MissingRequirements []string          `json:"missing_requirements"`
	IsMultiService      bool              `json:"is_multi_service"`
	CurrentStep         QuoteStep         `json:"current_step"`
	Quote               *Quote            `json:"quote,omitempty"`
	PaymentURL          string            `json:"payment_url,omitempty"`
}

// Recompute derives MissingRequirements from the full requirement set and
// moves CurrentStep so that it is quote-generation iff nothing is missing.
// A session still selecting services stays in service-selection.
func (q *QuoteSession) Recompute() {
	if q.CollectedInfo == nil {
		q.CollectedInfo = make(map[string]string)
	}
	q.IsMultiService = len(q.ServiceIDs) > 1

	missing := make([]string, 0, len(q.Requirements))
	for _, r := range q.Requirements {
		if !r.Required {
			continue
		}
		if strings.TrimSpace(q.CollectedInfo[r.Field]) == "" {
			missing = append(missing, r.Field)
		}
	}
	q.MissingRequirements = missing

	if len(q.ServiceIDs) == 0 {
		q.CurrentStep = StepServiceSelection
		return
	}
	if len(missing) == 0 {
		q.CurrentStep = StepQuoteGeneration
		return
	}
	q.CurrentStep = StepInfoCollection
}

// Requirement returns the requirement for a field.
func (q *QuoteSession) Requirement(field string) (RequirementSpec, bool) {
	for _, r := range q.Requirements {
		if r.Field == field {
			return r, true
		}
	}
	return RequirementSpec{}, false
}

// StartQuoteResult is returned by the collector's StartQuote.
type StartQuoteResult struct {
	NeedsMoreInfo     bool             `json:"needs_more_info"`
	NextQuestion      string           `json:"next_question,omitempty"`
	AvailableServices []ServiceSummary `json:"available_services,omitempty"`
	Error             string           `json:"error,omitempty"`
	Session           *QuoteSession    `json:"session,omitempty"`
}

// ProcessResult is returned by the collector's ProcessResponse.
type ProcessResult struct {
	NeedsMoreInfo  bool          `json:"needs_more_info"`
	NextQuestion   string        `json:"next_question,omitempty"`
	ReadyForQuote  bool          `json:"ready_for_quote"`
	Extracted      []string      `json:"extracted,omitempty"`
	UpdatedSession *QuoteSession `json:"session"`
}
