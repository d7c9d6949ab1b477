package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"
	"github.com/boddenberg/receptionist-core/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

// LifecycleConfig tunes the lifecycle manager.
type LifecycleConfig struct {
	// MaxRetries bounds optimistic read-modify-write attempts per mutation.
	MaxRetries int
	// Grace is how long a terminated session stays readable.
	Grace time.Duration
	// LockTTL bounds the per-call lock held while a call is being answered.
	LockTTL time.Duration
	// SettleTimeout bounds recording a tool outcome once the tool has run.
	// It is measured from a context that ignores the event's cancellation.
	SettleTimeout time.Duration
}

// Lifecycle drives each session through its state machine in response to
// inbound events. It holds no per-call state; every instance may handle any
// event for any call.
type Lifecycle struct {
	store     port.SessionStore
	pool      port.ConnectionPool
	provider  port.BusinessContextProvider
	renderer  port.PromptRenderer
	transport port.UpstreamTransport
	tools     *ToolExecutor
	cfg       LifecycleConfig
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewLifecycle creates the lifecycle manager with all dependencies injected.
func NewLifecycle(
	store port.SessionStore,
	pool port.ConnectionPool,
	provider port.BusinessContextProvider,
	renderer port.PromptRenderer,
	transport port.UpstreamTransport,
	tools *ToolExecutor,
	cfg LifecycleConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Lifecycle {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 5
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 10 * time.Second
	}
	return &Lifecycle{
		store:     store,
		pool:      pool,
		provider:  provider,
		renderer:  renderer,
		transport: transport,
		tools:     tools,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	l.now = now
	return l
}

// Session returns the stored session for a call.
func (l *Lifecycle) Session(ctx context.Context, callID string) (*domain.Session, error) {
	return l.store.Get(ctx, callID)
}

// CreateOrGet returns the session for the event's call, creating it on
// first sight. Concurrent callers for the same call id all observe the same
// session and the pool counter advances once.
func (l *Lifecycle) CreateOrGet(ctx context.Context, ev *domain.InboundEvent) (*domain.Session, bool, error) {
	ctx, span := tracer.Start(ctx, "Lifecycle.CreateOrGet")
	defer span.End()

	callID := ev.Data.CallID
	s, err := l.store.Get(ctx, callID)
	if err == nil {
		return s, false, nil
	}
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		return nil, false, fmt.Errorf("session lookup: %w", err)
	}

	release, err := l.store.Lock(ctx, "create:"+callID, l.cfg.LockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("create lock: %w", err)
	}
	defer release()

	// Another instance may have created it while we waited.
	if s, err := l.store.Get(ctx, callID); err == nil {
		return s, false, nil
	} else if !errors.As(err, &nf) {
		return nil, false, fmt.Errorf("session lookup: %w", err)
	}

	idx := l.pool.Assign(ctx)
	ns := domain.NewSession(callID, idx, l.now())
	ns.Identifier = ev.Identifier()
	ns.CallerNumber = ev.Caller()

	stored, created, err := l.store.Create(ctx, ns)
	if err != nil {
		return nil, false, fmt.Errorf("session create: %w", err)
	}
	if created {
		l.metrics.IncrSessionCreated()
		l.metrics.IncrPoolAssignment(idx)
		span.SetAttributes(attribute.Int("pool.index", idx))
		l.logger.Info("session created",
			zap.String("call_id", callID),
			zap.Int("pool_index", idx),
		)
	}
	return stored, created, nil
}

// Handle applies one inbound event to its session. A *domain.ErrStateConflict
// means the event was not meaningful in the session's current state and
// nothing changed.
func (l *Lifecycle) Handle(ctx context.Context, ev *domain.InboundEvent) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Lifecycle.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.id", ev.Data.CallID),
		attribute.String("event.type", string(ev.Type)),
	)

	start := time.Now()
	defer func() {
		l.metrics.RecordRequestDuration("lifecycle."+string(ev.Type), time.Since(start))
	}()

	var (
		s   *domain.Session
		err error
	)
	switch ev.Type {
	case domain.EventCallIncoming:
		s, err = l.callIncoming(ctx, ev)
	case domain.EventSpeechTranscribed:
		s, err = l.speechTranscribed(ctx, ev)
	case domain.EventToolInvoked:
		s, err = l.toolInvoked(ctx, ev)
	case domain.EventCallEnded:
		s, err = l.callEnded(ctx, ev)
	default:
		return nil, &domain.ErrStateConflict{CallID: ev.Data.CallID, Event: ev.Type}
	}

	var sc *domain.ErrStateConflict
	if err != nil && !errors.As(err, &sc) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return s, err
}

// callIncoming loads context and accepts the call. The whole sequence runs
// under a per-call lock so duplicate deliveries never accept twice.
func (l *Lifecycle) callIncoming(ctx context.Context, ev *domain.InboundEvent) (*domain.Session, error) {
	s, _, err := l.CreateOrGet(ctx, ev)
	if err != nil {
		return nil, err
	}
	if s.LifecycleState != domain.StateCreated && s.LifecycleState != domain.StateContextLoaded {
		return s, &domain.ErrStateConflict{CallID: s.ID, State: s.LifecycleState, Event: ev.Type}
	}

	release, err := l.store.Lock(ctx, "incoming:"+s.ID, l.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("incoming lock: %w", err)
	}
	defer release()

	if s, err = l.store.Get(ctx, s.ID); err != nil {
		return nil, err
	}

	if s.LifecycleState == domain.StateCreated {
		if s, err = l.loadContext(ctx, s, ev); err != nil {
			return s, err
		}
	}
	if s.LifecycleState != domain.StateContextLoaded {
		return s, &domain.ErrStateConflict{CallID: s.ID, State: s.LifecycleState, Event: ev.Type}
	}
	return l.accept(ctx, s, ev)
}

func (l *Lifecycle) loadContext(ctx context.Context, s *domain.Session, ev *domain.InboundEvent) (*domain.Session, error) {
	identifier := s.Identifier
	if identifier == "" {
		return l.fail(ctx, s.ID, ev.Type, "no_identifier",
			&domain.ErrValidation{Field: "identifier", Message: "no dialed number or demo token on the call"})
	}

	bc, err := l.provider.Resolve(ctx, identifier)
	if err != nil {
		var nf *domain.ErrNotFound
		var ua *domain.ErrUnauthorized
		if errors.As(err, &nf) || errors.As(err, &ua) {
			return l.fail(ctx, s.ID, ev.Type, "business_unresolved", err)
		}
		return s, fmt.Errorf("resolve business: %w", err)
	}

	instructions, err := l.renderer.Render(bc, port.RenderOptions{
		CallerNumber: s.CallerNumber,
		Now:          l.now(),
		IncludeFAQs:  true,
	})
	if err != nil {
		return s, fmt.Errorf("render instructions: %w", err)
	}
	tools := InitialTools(bc)

	return l.mutate(ctx, s.ID, func(cur *domain.Session) error {
		if err := cur.Transition(domain.StateContextLoaded, ev.Type, l.now()); err != nil {
			return err
		}
		cur.BusinessID = bc.BusinessID
		cur.BusinessContext = bc
		cur.Instructions = instructions
		cur.ActiveTools = tools
		return nil
	})
}

func (l *Lifecycle) accept(ctx context.Context, s *domain.Session, ev *domain.InboundEvent) (*domain.Session, error) {
	credential := l.pool.CredentialFor(s.AssignedPoolIndex)
	ref, err := l.transport.Accept(ctx, port.AcceptRequest{
		CallID:       s.ID,
		Credential:   credential,
		Instructions: s.Instructions,
		Tools:        s.ActiveTools,
	})
	if err != nil {
		l.metrics.IncrExternalError("realtime")
		return s, err
	}

	updated, err := l.mutate(ctx, s.ID, func(cur *domain.Session) error {
		if err := cur.Transition(domain.StateActive, ev.Type, l.now()); err != nil {
			return err
		}
		cur.UpstreamCallRef = ref
		return nil
	})
	var sc *domain.ErrStateConflict
	if errors.As(err, &sc) && sc.State.Ended() {
		// The caller hung up while we were answering.
		if herr := l.transport.Hangup(ctx, ref, credential); herr != nil {
			l.logger.Warn("hangup after late accept failed", zap.String("call_id", s.ID), zap.Error(herr))
		}
	}
	if err == nil {
		l.logger.Info("call accepted",
			zap.String("call_id", s.ID),
			zap.String("business_id", updated.BusinessID),
			zap.Int("pool_index", updated.AssignedPoolIndex),
		)
	}
	return updated, err
}

// fail terminates a session that can never be answered.
func (l *Lifecycle) fail(ctx context.Context, callID string, event domain.EventType, reason string, cause error) (*domain.Session, error) {
	l.logger.Warn("call cannot be answered",
		zap.String("call_id", callID),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	s, err := l.mutate(ctx, callID, func(cur *domain.Session) error {
		if err := cur.Transition(domain.StateTerminated, event, l.now()); err != nil {
			return err
		}
		if cur.Meta == nil {
			cur.Meta = make(map[string]string)
		}
		cur.Meta["failure"] = reason
		return nil
	})
	if err == nil {
		l.expire(ctx, callID)
	}
	return s, cause
}

func (l *Lifecycle) speechTranscribed(ctx context.Context, ev *domain.InboundEvent) (*domain.Session, error) {
	text := strings.TrimSpace(ev.Data.Transcript)
	role := ev.Data.Role
	if role == "" {
		role = "caller"
	}
	return l.mutate(ctx, ev.Data.CallID, func(cur *domain.Session) error {
		if cur.LifecycleState == domain.StateTerminated || text == "" {
			return &domain.ErrStateConflict{CallID: cur.ID, State: cur.LifecycleState, Event: ev.Type}
		}
		cur.AppendTranscript(role, text, l.now())
		return nil
	})
}

func (l *Lifecycle) toolInvoked(ctx context.Context, ev *domain.InboundEvent) (*domain.Session, error) {
	call := ToolCall{
		ID:   ev.Data.ToolCallID,
		Name: domain.ToolName(ev.Data.Name),
		Args: ev.ToolArguments(),
	}
	if call.ID == "" {
		call.ID = ev.ID
	}

	s, err := l.mutate(ctx, ev.Data.CallID, func(cur *domain.Session) error {
		if cur.LifecycleState != domain.StateActive || cur.ToolCallSeen(call.ID) {
			return &domain.ErrStateConflict{CallID: cur.ID, State: cur.LifecycleState, Event: ev.Type}
		}
		if err := cur.Transition(domain.StateToolExecuting, ev.Type, l.now()); err != nil {
			return err
		}
		cur.PendingToolCall = call.ID
		return nil
	})
	if err != nil {
		return s, err
	}

	outcome := l.tools.Execute(ctx, s, call)

	// The tool has run; its outcome is recorded and delivered even if the
	// event's own deadline has passed, so the session never stays parked in
	// TOOL_EXECUTING.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.SettleTimeout)
	defer cancel()

	final, err := l.mutate(ctx, s.ID, func(cur *domain.Session) error {
		outcome.Apply(cur)
		return l.settleTool(cur, call.ID, ev.Type)
	})
	if err != nil {
		var sc *domain.ErrStateConflict
		if !errors.As(err, &sc) {
			l.releaseTool(ctx, s.ID, call.ID, ev.Type)
		}
		return final, err
	}

	if final.LifecycleState == domain.StateTerminated {
		// The call ended mid-tool; the result has nowhere to go.
		l.expire(ctx, final.ID)
		return final, nil
	}

	credential := l.pool.CredentialFor(final.AssignedPoolIndex)
	if outcome.ToolsChanged {
		if err := l.transport.UpdateSession(ctx, final.UpstreamCallRef, credential, final.Instructions, final.ActiveTools); err != nil {
			l.metrics.IncrExternalError("realtime")
			l.logger.Warn("tool set update failed", zap.String("call_id", final.ID), zap.Error(err))
		}
	}
	if err := l.transport.SendToolResult(ctx, final.UpstreamCallRef, credential, outcome.Result); err != nil {
		l.metrics.IncrExternalError("realtime")
		return final, err
	}
	return final, nil
}

func (l *Lifecycle) callEnded(ctx context.Context, ev *domain.InboundEvent) (*domain.Session, error) {
	reason := ev.Data.Reason
	s, err := l.mutate(ctx, ev.Data.CallID, func(cur *domain.Session) error {
		if cur.LifecycleState.Ended() {
			return &domain.ErrStateConflict{CallID: cur.ID, State: cur.LifecycleState, Event: ev.Type}
		}
		wasExecuting := cur.LifecycleState == domain.StateToolExecuting
		if err := cur.Transition(domain.StateClosing, ev.Type, l.now()); err != nil {
			return err
		}
		if reason != "" {
			if cur.Meta == nil {
				cur.Meta = make(map[string]string)
			}
			cur.Meta["end_reason"] = reason
		}
		if wasExecuting {
			// The in-flight tool finishes the teardown.
			return nil
		}
		return cur.Transition(domain.StateTerminated, ev.Type, l.now())
	})
	if err != nil {
		return s, err
	}
	if s.LifecycleState == domain.StateTerminated {
		l.expire(ctx, s.ID)
	}
	l.logger.Info("call ended",
		zap.String("call_id", s.ID),
		zap.String("state", string(s.LifecycleState)),
	)
	return s, nil
}

// settleTool clears the pending tool call and returns the session to the
// state it would be in without the tool.
func (l *Lifecycle) settleTool(cur *domain.Session, callID string, event domain.EventType) error {
	cur.PendingToolCall = ""
	cur.RecordToolCall(callID)
	switch cur.LifecycleState {
	case domain.StateToolExecuting:
		return cur.Transition(domain.StateActive, event, l.now())
	case domain.StateClosing:
		return cur.Transition(domain.StateTerminated, event, l.now())
	default:
		return &domain.ErrStateConflict{CallID: cur.ID, State: cur.LifecycleState, Event: event}
	}
}

// releaseTool settles a tool call whose outcome could not be stored. The
// outcome is dropped; the call itself can carry on.
func (l *Lifecycle) releaseTool(ctx context.Context, sessionID, callID string, event domain.EventType) {
	log := observability.CallLogger(l.logger, sessionID)
	released, err := l.mutate(ctx, sessionID, func(cur *domain.Session) error {
		if cur.PendingToolCall != callID {
			return &domain.ErrStateConflict{CallID: cur.ID, State: cur.LifecycleState, Event: event}
		}
		return l.settleTool(cur, callID, event)
	})
	if err != nil {
		var sc *domain.ErrStateConflict
		if !errors.As(err, &sc) {
			log.Error("tool call release failed", zap.String("tool_call_id", callID), zap.Error(err))
		}
		return
	}
	log.Warn("tool outcome dropped, session released",
		zap.String("tool_call_id", callID),
		zap.String("state", string(released.LifecycleState)),
	)
	if released.LifecycleState == domain.StateTerminated {
		l.expire(ctx, released.ID)
	}
}

func (l *Lifecycle) expire(ctx context.Context, callID string) {
	if err := l.store.Expire(ctx, callID, l.cfg.Grace); err != nil {
		l.logger.Warn("session expire failed", zap.String("call_id", callID), zap.Error(err))
	}
}

// mutate is the read-modify-write loop every session change goes through.
// fn runs against a fresh copy on each attempt; a version conflict retries,
// any error from fn aborts with the unchanged session.
func (l *Lifecycle) mutate(ctx context.Context, callID string, fn func(*domain.Session) error) (*domain.Session, error) {
	for attempt := 1; attempt <= l.cfg.MaxRetries; attempt++ {
		cur, err := l.store.Get(ctx, callID)
		if err != nil {
			return nil, err
		}
		before := cur.Clone()
		if err := fn(cur); err != nil {
			return before, err
		}
		cur.UpdatedAt = l.now()

		updated, err := l.store.Update(ctx, cur)
		if err == nil {
			return updated, nil
		}
		var vc *domain.ErrVersionConflict
		if !errors.As(err, &vc) {
			return nil, fmt.Errorf("session update: %w", err)
		}
		l.metrics.IncrStoreConflict()
		l.logger.Debug("session version conflict, retrying",
			zap.String("call_id", callID),
			zap.Int("attempt", attempt),
		)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, &domain.ErrUpstream{
		Service: "session_store",
		Err:     fmt.Errorf("call %s: version conflict after %d attempts", callID, l.cfg.MaxRetries),
	}
}
