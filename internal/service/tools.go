package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"
	"github.com/boddenberg/receptionist-core/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ToolCall is one invocation received from the dialogue.
type ToolCall struct {
	ID   string
	Name domain.ToolName
	Args []byte
}

// ToolOutcome is what executing a tool produced. Side effects have already
// happened; Apply replays the session-side changes and must be safe to run
// more than once against fresh copies of the session.
type ToolOutcome struct {
	Result       domain.ToolResult
	Apply        func(s *domain.Session)
	ToolsChanged bool
}

// ToolExecutor runs tool invocations against the business's collaborators.
type ToolExecutor struct {
	collector    *QuoteCollector
	availability port.AvailabilityStore
	payments     port.PaymentLinkIssuer
	notifier     port.Notifier
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewToolExecutor wires the executor. availability, payments and notifier
// may be nil; tools needing them then report that they are not configured.
func NewToolExecutor(
	collector *QuoteCollector,
	availability port.AvailabilityStore,
	payments port.PaymentLinkIssuer,
	notifier port.Notifier,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ToolExecutor {
	if collector == nil {
		collector = NewQuoteCollector(nil, nil)
	}
	return &ToolExecutor{
		collector:    collector,
		availability: availability,
		payments:     payments,
		notifier:     notifier,
		metrics:      metrics,
		logger:       logger,
	}
}

// InitialTools returns the descriptors attached when a call is accepted:
// every permitted tool except the payment link, which is attached once a
// quote is ready.
func InitialTools(bc *domain.BusinessContext) []domain.ToolDescriptor {
	var out []domain.ToolDescriptor
	for _, name := range bc.Tools {
		if name == domain.ToolCreatePaymentLink {
			continue
		}
		if d, ok := domain.DescriptorFor(name); ok {
			out = append(out, d)
		}
	}
	return out
}

// Execute runs one tool call for the given session snapshot. Failures are
// reported in the result so the dialogue can recover; Execute itself never
// fails.
func (e *ToolExecutor) Execute(ctx context.Context, s *domain.Session, call ToolCall) ToolOutcome {
	ctx, span := tracer.Start(ctx, "ToolExecutor.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.id", s.ID),
		attribute.String("tool.name", string(call.Name)),
	)

	start := time.Now()
	defer func() {
		e.metrics.RecordRequestDuration("tool."+string(call.Name), time.Since(start))
	}()

	out, err := e.run(ctx, s, call)
	if out.Apply == nil {
		out.Apply = func(*domain.Session) {}
	}
	out.Result.ToolCallID = call.ID
	out.Result.Tool = call.Name

	if err != nil {
		e.metrics.IncrToolCall(string(call.Name), "error")
		out.Result.Output = nil
		out.Result.Error = toolErrorMessage(err)
		e.logger.Warn("tool failed",
			zap.String("call_id", s.ID),
			zap.String("tool", string(call.Name)),
			zap.Error(err),
		)
		return out
	}
	e.metrics.IncrToolCall(string(call.Name), "ok")
	return out
}

func (e *ToolExecutor) run(ctx context.Context, s *domain.Session, call ToolCall) (ToolOutcome, error) {
	bc := s.BusinessContext
	if bc == nil {
		return ToolOutcome{}, &domain.ErrValidation{Field: "session", Message: "business context not loaded"}
	}
	if !bc.Permits(call.Name) && !s.HasTool(call.Name) {
		return ToolOutcome{}, &domain.ErrForbidden{Action: string(call.Name)}
	}

	args, err := domain.DecodeToolArgs(call.Name, call.Args)
	if err != nil {
		return ToolOutcome{}, err
	}

	switch a := args.(type) {
	case *domain.StartQuoteArgs:
		return e.startQuote(s, bc, a)
	case *domain.AnswerQuoteArgs:
		return e.answerQuote(s, bc, a)
	case *domain.CheckAvailabilityArgs:
		return e.checkAvailability(ctx, bc, a)
	case *domain.BookSlotArgs:
		return e.bookSlot(ctx, s, bc, a)
	case *domain.PaymentLinkArgs:
		return e.paymentLink(ctx, s)
	case *domain.EscalateArgs:
		return e.escalate(ctx, s, bc, a)
	case *domain.AnswerFAQArgs:
		return answerFAQ(bc, a), nil
	default:
		return ToolOutcome{}, &domain.ErrValidation{Field: "name", Message: fmt.Sprintf("unhandled tool %q", call.Name)}
	}
}

// attachPaymentLink attaches create_payment_link when the quote is ready and
// the business takes payments over the phone.
func attachPaymentLink(s *domain.Session, bc *domain.BusinessContext) bool {
	if s.QuoteSession == nil || s.QuoteSession.CurrentStep != domain.StepQuoteGeneration {
		return false
	}
	if !bc.Permits(domain.ToolCreatePaymentLink) {
		return false
	}
	return s.AttachTool(domain.ToolCreatePaymentLink)
}

func (e *ToolExecutor) startQuote(s *domain.Session, bc *domain.BusinessContext, a *domain.StartQuoteArgs) (ToolOutcome, error) {
	var prior map[string]string
	if s.QuoteSession != nil {
		prior = s.QuoteSession.CollectedInfo
	}
	res := e.collector.StartQuote(bc, a.ServiceIDs, prior)
	if res.Session == nil {
		return ToolOutcome{Result: domain.ToolResult{Output: res}}, nil
	}

	qs := res.Session
	preview := &domain.Session{QuoteSession: qs, ActiveTools: append([]domain.ToolDescriptor(nil), s.ActiveTools...)}
	changed := attachPaymentLink(preview, bc)

	output := map[string]any{
		"needs_more_info": res.NeedsMoreInfo,
		"next_question":   res.NextQuestion,
	}
	if len(res.AvailableServices) > 0 {
		output["available_services"] = res.AvailableServices
	}
	if qs.Quote != nil {
		output["quote"] = qs.Quote
	}
	return ToolOutcome{
		Result: domain.ToolResult{Output: output},
		Apply: func(sess *domain.Session) {
			sess.QuoteSession = cloneQuote(qs)
			attachPaymentLink(sess, bc)
		},
		ToolsChanged: changed,
	}, nil
}

func (e *ToolExecutor) answerQuote(s *domain.Session, bc *domain.BusinessContext, a *domain.AnswerQuoteArgs) (ToolOutcome, error) {
	if s.QuoteSession == nil {
		return ToolOutcome{}, &domain.ErrValidation{Field: "quote", Message: "no quote in progress; call start_quote first"}
	}
	pr := e.collector.ProcessResponse(bc, s.QuoteSession, a.Answer)
	qs := pr.UpdatedSession

	preview := &domain.Session{QuoteSession: qs, ActiveTools: append([]domain.ToolDescriptor(nil), s.ActiveTools...)}
	changed := attachPaymentLink(preview, bc)

	output := map[string]any{
		"needs_more_info": pr.NeedsMoreInfo,
		"ready_for_quote": pr.ReadyForQuote,
	}
	if pr.NextQuestion != "" {
		output["next_question"] = pr.NextQuestion
	}
	if len(pr.Extracted) > 0 {
		output["captured"] = pr.Extracted
	}
	if qs.Quote != nil && pr.ReadyForQuote {
		output["quote"] = qs.Quote
	}
	return ToolOutcome{
		Result: domain.ToolResult{Output: output},
		Apply: func(sess *domain.Session) {
			sess.QuoteSession = cloneQuote(qs)
			attachPaymentLink(sess, bc)
		},
		ToolsChanged: changed,
	}, nil
}

type slotView struct {
	SlotID   string `json:"slot_id"`
	Provider string `json:"provider"`
	Starts   string `json:"starts"`
	Ends     string `json:"ends"`
}

func (e *ToolExecutor) checkAvailability(ctx context.Context, bc *domain.BusinessContext, a *domain.CheckAvailabilityArgs) (ToolOutcome, error) {
	if e.availability == nil {
		return ToolOutcome{}, errNotConfigured("availability")
	}
	loc := businessLocation(bc)
	slots, err := e.availability.ListOpenSlots(ctx, bc.BusinessID, a.Date)
	if err != nil {
		return ToolOutcome{}, fmt.Errorf("list slots: %w", err)
	}
	views := make([]slotView, 0, len(slots))
	for _, sl := range slots {
		views = append(views, slotView{
			SlotID:   sl.ID,
			Provider: sl.ProviderID,
			Starts:   sl.StartsAt.In(loc).Format("15:04"),
			Ends:     sl.EndsAt.In(loc).Format("15:04"),
		})
	}
	output := map[string]any{"date": a.Date, "slots": views}
	if len(views) == 0 {
		output["note"] = "no open slots on this date"
	}
	return ToolOutcome{Result: domain.ToolResult{Output: output}}, nil
}

func (e *ToolExecutor) bookSlot(ctx context.Context, s *domain.Session, bc *domain.BusinessContext, a *domain.BookSlotArgs) (ToolOutcome, error) {
	if e.availability == nil {
		return ToolOutcome{}, errNotConfigured("availability")
	}
	slot, err := e.availability.Reserve(ctx, bc.BusinessID, a.SlotID, s.ID)
	if err != nil {
		return ToolOutcome{}, err
	}
	booking := domain.Booking{
		SlotID:       slot.ID,
		CustomerName: strings.TrimSpace(a.CustomerName),
		StartsAt:     slot.StartsAt,
	}
	loc := businessLocation(bc)
	return ToolOutcome{
		Result: domain.ToolResult{Output: map[string]any{
			"booked":   true,
			"slot_id":  slot.ID,
			"date":     slot.LocalDate,
			"starts":   slot.StartsAt.In(loc).Format("15:04"),
			"customer": booking.CustomerName,
		}},
		Apply: func(sess *domain.Session) {
			for _, b := range sess.Bookings {
				if b.SlotID == booking.SlotID {
					return
				}
			}
			sess.Bookings = append(sess.Bookings, booking)
		},
	}, nil
}

func (e *ToolExecutor) paymentLink(ctx context.Context, s *domain.Session) (ToolOutcome, error) {
	if e.payments == nil {
		return ToolOutcome{}, errNotConfigured("payments")
	}
	if s.QuoteSession == nil || s.QuoteSession.Quote == nil {
		return ToolOutcome{}, &domain.ErrValidation{Field: "quote", Message: "no completed quote"}
	}
	if s.QuoteSession.PaymentURL != "" {
		return ToolOutcome{Result: domain.ToolResult{Output: map[string]any{
			"url": s.QuoteSession.PaymentURL, "sent_sms": false,
		}}}, nil
	}

	link, err := e.payments.CreateForSession(ctx, s)
	if err != nil {
		return ToolOutcome{}, err
	}

	sent := false
	if s.CallerNumber != "" && e.notifier != nil {
		body := fmt.Sprintf("Your payment link from %s: %s", s.BusinessContext.Name, link.URL)
		if err := e.notifier.SendText(ctx, s.CallerNumber, body); err != nil {
			e.logger.Warn("payment link text failed", zap.String("call_id", s.ID), zap.Error(err))
		} else {
			sent = true
		}
	}

	url := link.URL
	return ToolOutcome{
		Result: domain.ToolResult{Output: map[string]any{"url": url, "sent_sms": sent}},
		Apply: func(sess *domain.Session) {
			if sess.QuoteSession != nil {
				sess.QuoteSession.PaymentURL = url
			}
		},
	}, nil
}

func (e *ToolExecutor) escalate(ctx context.Context, s *domain.Session, bc *domain.BusinessContext, a *domain.EscalateArgs) (ToolOutcome, error) {
	if e.notifier == nil {
		return ToolOutcome{}, errNotConfigured("notifications")
	}
	caller := a.CallerPhone
	if caller == "" {
		caller = s.CallerNumber
	}
	err := e.notifier.Escalate(ctx, port.Escalation{
		CallID:       s.ID,
		BusinessName: bc.Name,
		To:           bc.EscalationNumber,
		CallerPhone:  caller,
		Reason:       a.Reason,
	})
	if err != nil {
		return ToolOutcome{}, err
	}
	reason := a.Reason
	return ToolOutcome{
		Result: domain.ToolResult{Output: map[string]any{"escalated": true}},
		Apply: func(sess *domain.Session) {
			if sess.Meta == nil {
				sess.Meta = make(map[string]string)
			}
			sess.Meta["escalation_reason"] = reason
		},
	}, nil
}

// answerFAQ scores each FAQ by keyword hits, then by words shared with its
// question, and returns the best match.
func answerFAQ(bc *domain.BusinessContext, a *domain.AnswerFAQArgs) ToolOutcome {
	words := faqWords(a.Question)
	type scored struct {
		faq   domain.FAQ
		score int
	}
	var ranked []scored
	for _, f := range bc.FAQs {
		score := 0
		q := strings.ToLower(a.Question)
		for _, k := range f.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(q, k) {
				score += 3
			}
		}
		for w := range faqWords(f.Question) {
			if _, ok := words[w]; ok {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{faq: f, score: score})
		}
	}
	if len(ranked) == 0 {
		return ToolOutcome{Result: domain.ToolResult{Output: map[string]any{
			"found": false,
			"note":  "no matching answer on file; offer to take a message or escalate",
		}}}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	best := ranked[0].faq
	return ToolOutcome{Result: domain.ToolResult{Output: map[string]any{
		"found":    true,
		"question": best.Question,
		"answer":   best.Answer,
	}}}
}

var faqStopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "do": {}, "does": {}, "you": {}, "your": {},
	"is": {}, "are": {}, "what": {}, "how": {}, "i": {}, "can": {}, "to": {},
	"of": {}, "for": {}, "on": {}, "in": {}, "my": {}, "we": {},
}

func faqWords(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if _, stop := faqStopWords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func businessLocation(bc *domain.BusinessContext) *time.Location {
	if bc.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(bc.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func errNotConfigured(what string) error {
	return fmt.Errorf("%s is not configured", what)
}

// toolErrorMessage is the caller-safe rendering of a tool failure.
func toolErrorMessage(err error) string {
	var (
		ve *domain.ErrValidation
		fe *domain.ErrForbidden
		se *domain.ErrSlotUnavailable
		ue *domain.ErrUpstream
		ce *domain.ErrCircuitOpen
	)
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &fe):
		return fmt.Sprintf("tool %s is not available for this business", fe.Action)
	case errors.As(err, &se):
		return "that slot is no longer available; check availability again"
	case errors.As(err, &ce), errors.As(err, &ue):
		return "the service is temporarily unavailable; try again shortly"
	default:
		return err.Error()
	}
}
