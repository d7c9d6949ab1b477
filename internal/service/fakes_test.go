package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/availability"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"
	"github.com/boddenberg/receptionist-core/internal/infra/pool"
	"github.com/boddenberg/receptionist-core/internal/infra/sessionstore"
	"github.com/boddenberg/receptionist-core/internal/port"
	"github.com/boddenberg/receptionist-core/internal/service"
)

// --- fakes ---

type fakeProvider struct {
	bc    *domain.BusinessContext
	calls atomic.Int32
}

func (f *fakeProvider) Resolve(_ context.Context, identifier string) (*domain.BusinessContext, error) {
	f.calls.Add(1)
	if identifier != "+61390000000" && identifier != domain.BusinessRef(f.bc.BusinessID) {
		return nil, &domain.ErrNotFound{Resource: "business", ID: identifier}
	}
	copied := *f.bc
	return &copied, nil
}

type fakeTransport struct {
	mu      sync.Mutex
	accepts []port.AcceptRequest
	results []domain.ToolResult
	updates [][]domain.ToolDescriptor
	hangups int
}

func (f *fakeTransport) Accept(_ context.Context, req port.AcceptRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepts = append(f.accepts, req)
	return "rtc_" + req.CallID, nil
}

func (f *fakeTransport) Hangup(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups++
	return nil
}

func (f *fakeTransport) SendToolResult(_ context.Context, _, _ string, r domain.ToolResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

func (f *fakeTransport) UpdateSession(_ context.Context, _, _, _ string, tools []domain.ToolDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, tools)
	return nil
}

func (f *fakeTransport) acceptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.accepts)
}

func (f *fakeTransport) resultCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

type fakePayments struct {
	calls atomic.Int32
}

func (f *fakePayments) CreateForSession(_ context.Context, s *domain.Session) (*port.PaymentLink, error) {
	f.calls.Add(1)
	return &port.PaymentLink{URL: "https://pay.example.com/" + s.ID}, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	texts   []string
	escs    []port.Escalation
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeNotifier) Escalate(ctx context.Context, e port.Escalation) error {
	if f.block != nil {
		if f.entered != nil {
			close(f.entered)
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escs = append(f.escs, e)
	return nil
}

func (f *fakeNotifier) SendText(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, to+": "+body)
	return nil
}

// flakyStore fails the next failUpdates writes with updateErr.
type flakyStore struct {
	*sessionstore.Memory
	mu          sync.Mutex
	failUpdates int
	updateErr   func(s *domain.Session) error
}

func (f *flakyStore) Update(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	f.mu.Lock()
	if f.failUpdates != 0 {
		if f.failUpdates > 0 {
			f.failUpdates--
		}
		err := f.updateErr(s)
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()
	return f.Memory.Update(ctx, s)
}

// failNextUpdates makes the next n writes fail; a negative n fails every write.
func (f *flakyStore) failNextUpdates(n int, errFn func(s *domain.Session) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpdates = n
	f.updateErr = errFn
}

func versionConflict(s *domain.Session) error {
	return &domain.ErrVersionConflict{CallID: s.ID, Expected: s.Version, Actual: s.Version + 1}
}

// --- fixtures ---

func receptionBusiness() *domain.BusinessContext {
	bc := plumbingBusiness()
	bc.Timezone = "UTC"
	bc.EscalationNumber = "+61411111111"
	bc.PhoneNumbers = []string{"+61390000000"}
	bc.FAQs = []domain.FAQ{
		{Question: "What are your opening hours?", Answer: "Weekdays 9 to 5.", Keywords: []string{"hours", "open"}},
		{Question: "Do you service the eastern suburbs?", Answer: "Yes, all of them.", Keywords: []string{"suburbs", "area"}},
	}
	bc.Tools = []domain.ToolName{
		domain.ToolStartQuote,
		domain.ToolAnswerQuoteQuestion,
		domain.ToolCheckAvailability,
		domain.ToolBookSlot,
		domain.ToolCreatePaymentLink,
		domain.ToolEscalateToHuman,
		domain.ToolAnswerFAQ,
	}
	return bc
}

type harness struct {
	store     *flakyStore
	pool      *pool.Pool
	provider  *fakeProvider
	transport *fakeTransport
	payments  *fakePayments
	notifier  *fakeNotifier
	slots     *availability.Memory
	metrics   *observability.Metrics
	lifecycle *service.Lifecycle
}

func newHarness(t *testing.T, credentials ...string) *harness {
	t.Helper()
	if len(credentials) == 0 {
		credentials = []string{"key-0", "key-1", "key-2"}
	}
	logger := zap.NewNop()
	p, err := pool.New(credentials, nil, logger)
	require.NoError(t, err)
	renderer, err := service.NewTemplateRenderer("")
	require.NoError(t, err)

	h := &harness{
		store:     &flakyStore{Memory: sessionstore.NewMemory(time.Hour)},
		pool:      p,
		provider:  &fakeProvider{bc: receptionBusiness()},
		transport: &fakeTransport{},
		payments:  &fakePayments{},
		notifier:  &fakeNotifier{},
		slots:     availability.NewMemory(),
		metrics:   observability.NewMetrics(),
	}
	tools := service.NewToolExecutor(nil, h.slots, h.payments, h.notifier, h.metrics, logger)
	h.lifecycle = service.NewLifecycle(h.store, h.pool, h.provider, renderer, h.transport, tools,
		service.LifecycleConfig{MaxRetries: 5, Grace: time.Minute, LockTTL: 5 * time.Second},
		h.metrics, logger)
	return h
}

func inbound(t *testing.T, eventType domain.EventType, callID string, mutate ...func(*domain.EventData)) *domain.InboundEvent {
	t.Helper()
	ev := &domain.InboundEvent{
		ID:      "evt_" + callID + "_" + string(eventType),
		RawType: string(eventType),
		Data:    domain.EventData{CallID: callID, To: "+61390000000", From: "+61400000001"},
	}
	for _, m := range mutate {
		m(&ev.Data)
	}
	require.NoError(t, ev.Validate())
	return ev
}

func toolEvent(t *testing.T, callID, toolCallID string, name domain.ToolName, args any) *domain.InboundEvent {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return inbound(t, domain.EventToolInvoked, callID, func(d *domain.EventData) {
		d.ToolCallID = toolCallID
		d.Name = string(name)
		d.Arguments = raw
	})
}

// answerCall drives a call to ACTIVE.
func (h *harness) answerCall(t *testing.T, callID string) *domain.Session {
	t.Helper()
	s, err := h.lifecycle.Handle(context.Background(), inbound(t, domain.EventCallIncoming, callID))
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, s.LifecycleState)
	return s
}

func testCallID(i int) string {
	return fmt.Sprintf("rtc_call_%03d", i)
}
