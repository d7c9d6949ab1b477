package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/availability"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"
	"github.com/boddenberg/receptionist-core/internal/service"
)

type toolFixture struct {
	exec     *service.ToolExecutor
	slots    *availability.Memory
	payments *fakePayments
	notifier *fakeNotifier
	session  *domain.Session
}

func newToolFixture(t *testing.T) *toolFixture {
	t.Helper()
	f := &toolFixture{
		slots:    availability.NewMemory(),
		payments: &fakePayments{},
		notifier: &fakeNotifier{},
	}
	f.exec = service.NewToolExecutor(nil, f.slots, f.payments, f.notifier, observability.NewMetrics(), zap.NewNop())

	s := domain.NewSession("rtc_tools", 0, time.Now())
	s.BusinessContext = receptionBusiness()
	s.BusinessID = s.BusinessContext.BusinessID
	s.CallerNumber = "+61400000001"
	s.ActiveTools = service.InitialTools(s.BusinessContext)
	s.LifecycleState = domain.StateToolExecuting
	f.session = s
	return f
}

func (f *toolFixture) run(t *testing.T, name domain.ToolName, args string) service.ToolOutcome {
	t.Helper()
	out := f.exec.Execute(context.Background(), f.session, service.ToolCall{ID: "fc_" + string(name), Name: name, Args: []byte(args)})
	out.Apply(f.session)
	return out
}

func TestInitialTools_HoldsBackPaymentLink(t *testing.T) {
	tools := service.InitialTools(receptionBusiness())
	names := make([]domain.ToolName, 0, len(tools))
	for _, d := range tools {
		assert.Equal(t, "function", d.Type)
		names = append(names, d.Name)
	}
	assert.NotContains(t, names, domain.ToolCreatePaymentLink)
	assert.Contains(t, names, domain.ToolAnswerFAQ)
}

func TestTools_InvalidArgumentsAreReported(t *testing.T) {
	f := newToolFixture(t)

	out := f.run(t, domain.ToolCheckAvailability, `{"date":"next tuesday"}`)
	assert.Contains(t, out.Result.Error, "YYYY-MM-DD")

	out = f.run(t, domain.ToolAnswerFAQ, `{"question":"hours?","extra":1}`)
	assert.NotEmpty(t, out.Result.Error)
}

func TestTools_CheckAndBookSlot(t *testing.T) {
	f := newToolFixture(t)
	r := service.NewRollover(f.slots, 1, observability.NewMetrics(), zap.NewNop())
	_, err := r.GenerateInitial(context.Background(), "biz-1", "2026-10-19", twoProviders, weekdayMornings(7), "UTC", 60)
	require.NoError(t, err)

	out := f.run(t, domain.ToolCheckAvailability, `{"date":"2026-10-19"}`)
	require.Empty(t, out.Result.Error)
	assert.Contains(t, out.Result.JSON(), `"starts":"09:00"`)

	slotID := service.SlotID("biz-1", "p1", time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	out = f.run(t, domain.ToolBookSlot, `{"slot_id":"`+slotID+`","customer_name":"Jo Citizen"}`)
	require.Empty(t, out.Result.Error)
	require.Len(t, f.session.Bookings, 1)
	assert.Equal(t, "Jo Citizen", f.session.Bookings[0].CustomerName)

	// Apply is safe to replay.
	out.Apply(f.session)
	assert.Len(t, f.session.Bookings, 1)

	out = f.run(t, domain.ToolBookSlot, `{"slot_id":"`+slotID+`","customer_name":"Someone Else"}`)
	assert.Contains(t, out.Result.Error, "no longer available")
}

func TestTools_PaymentLinkNeedsAQuote(t *testing.T) {
	f := newToolFixture(t)
	f.session.AttachTool(domain.ToolCreatePaymentLink)

	out := f.run(t, domain.ToolCreatePaymentLink, `{}`)
	assert.Contains(t, out.Result.Error, "quote")
	assert.Zero(t, f.payments.calls.Load())
}

func TestTools_QuoteThenPaymentLink(t *testing.T) {
	f := newToolFixture(t)

	out := f.run(t, domain.ToolStartQuote, `{"service_ids":["svc-plumbing"]}`)
	require.Empty(t, out.Result.Error)
	assert.False(t, out.ToolsChanged)

	f.run(t, domain.ToolAnswerQuoteQuestion, `{"answer":"123 Smith St, Richmond"}`)
	out = f.run(t, domain.ToolAnswerQuoteQuestion, `{"answer":"blocked drain"}`)
	assert.True(t, out.ToolsChanged)
	assert.True(t, f.session.HasTool(domain.ToolCreatePaymentLink))

	out = f.run(t, domain.ToolCreatePaymentLink, `{}`)
	require.Empty(t, out.Result.Error)
	assert.Equal(t, "https://pay.example.com/rtc_tools", f.session.QuoteSession.PaymentURL)
	require.Len(t, f.notifier.texts, 1)

	// A second request reuses the existing link.
	f.run(t, domain.ToolCreatePaymentLink, `{}`)
	assert.Equal(t, int32(1), f.payments.calls.Load())
}

func TestTools_AnswerQuoteWithoutStartIsAnError(t *testing.T) {
	f := newToolFixture(t)

	out := f.run(t, domain.ToolAnswerQuoteQuestion, `{"answer":"three rooms"}`)
	assert.Contains(t, out.Result.Error, "start_quote")
}

func TestTools_EscalateUsesBusinessNumber(t *testing.T) {
	f := newToolFixture(t)

	out := f.run(t, domain.ToolEscalateToHuman, `{"reason":"complaint"}`)
	require.Empty(t, out.Result.Error)
	require.Len(t, f.notifier.escs, 1)
	e := f.notifier.escs[0]
	assert.Equal(t, "+61411111111", e.To)
	assert.Equal(t, "+61400000001", e.CallerPhone)
	assert.Equal(t, "Richmond Trades", e.BusinessName)
}

func TestTools_FAQMatching(t *testing.T) {
	f := newToolFixture(t)

	out := f.run(t, domain.ToolAnswerFAQ, `{"question":"Do you cover my area?"}`)
	assert.Contains(t, out.Result.JSON(), "Yes, all of them.")

	out = f.run(t, domain.ToolAnswerFAQ, `{"question":"Can I pay in bitcoin?"}`)
	assert.Contains(t, out.Result.JSON(), `"found":false`)
}

func TestTools_UnconfiguredCollaborator(t *testing.T) {
	exec := service.NewToolExecutor(nil, nil, nil, nil, observability.NewMetrics(), zap.NewNop())
	s := newToolFixture(t).session

	out := exec.Execute(context.Background(), s, service.ToolCall{ID: "fc_1", Name: domain.ToolCheckAvailability, Args: []byte(`{"date":"2026-10-19"}`)})
	assert.Contains(t, out.Result.Error, "not configured")
	assert.Equal(t, "fc_1", out.Result.ToolCallID)
}
