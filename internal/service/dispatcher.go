package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"
	"github.com/boddenberg/receptionist-core/internal/infra/resilience"
	"github.com/boddenberg/receptionist-core/internal/infra/webhook"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SignatureVerifier authenticates a webhook delivery.
type SignatureVerifier interface {
	Verify(body []byte, headers http.Header) error
}

// EventHandler applies an accepted event to its session.
type EventHandler interface {
	Handle(ctx context.Context, ev *domain.InboundEvent) (*domain.Session, error)
}

// SessionLookup is the read side of the session store.
type SessionLookup interface {
	Get(ctx context.Context, callID string) (*domain.Session, error)
}

// ReplayGuard remembers delivery ids. Add reports false for an id already
// seen.
type ReplayGuard interface {
	Add(key string, value time.Time) bool
}

// DispatcherConfig tunes the dispatcher.
type DispatcherConfig struct {
	// DetachedTimeout bounds the work done after the acknowledgment.
	DetachedTimeout time.Duration
}

// Dispatcher is the webhook entry point. It validates and authenticates a
// delivery, acknowledges it, and hands the event to the lifecycle on a
// detached goroutine. Nothing on the acknowledgment path waits on business
// context resolution or the upstream transport.
type Dispatcher struct {
	verifier SignatureVerifier
	handler  EventHandler
	sessions SessionLookup
	replay   ReplayGuard
	bulkhead *resilience.Bulkhead
	cfg      DispatcherConfig
	metrics  *observability.Metrics
	logger   *zap.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates the dispatcher. replay may be nil.
func NewDispatcher(
	verifier SignatureVerifier,
	handler EventHandler,
	sessions SessionLookup,
	replay ReplayGuard,
	bulkhead *resilience.Bulkhead,
	cfg DispatcherConfig,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.DetachedTimeout <= 0 {
		cfg.DetachedTimeout = 30 * time.Second
	}
	if bulkhead == nil {
		bulkhead = resilience.NewBulkhead(100)
	}
	return &Dispatcher{
		verifier: verifier,
		handler:  handler,
		sessions: sessions,
		replay:   replay,
		bulkhead: bulkhead,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Handle processes one webhook delivery. Errors are *domain.ErrValidation
// (400), *domain.ErrUnauthorized (401) or *domain.ErrNotFound (404); any
// other error is a store failure on the acknowledgment path.
func (d *Dispatcher) Handle(ctx context.Context, body []byte, headers http.Header) (*domain.AckResponse, error) {
	ctx, span := tracer.Start(ctx, "Dispatcher.Handle")
	defer span.End()

	start := time.Now()
	ack := func() *domain.AckResponse {
		elapsed := time.Since(start)
		d.metrics.RecordAck(elapsed)
		return &domain.AckResponse{Success: true, ProcessingTimeMs: elapsed.Milliseconds()}
	}

	var ev domain.InboundEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		d.metrics.IncrEvent("invalid", "rejected")
		return nil, &domain.ErrValidation{Field: "body", Message: "malformed JSON"}
	}
	if err := ev.Validate(); err != nil {
		d.metrics.IncrEvent("invalid", "rejected")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("call.id", ev.Data.CallID),
		attribute.String("event.type", string(ev.Type)),
	)

	if err := d.verifier.Verify(body, headers); err != nil {
		d.metrics.IncrEvent(string(ev.Type), "rejected")
		d.logger.Warn("webhook signature rejected",
			zap.String("call_id", ev.Data.CallID),
			zap.Error(err),
		)
		return nil, &domain.ErrUnauthorized{Message: err.Error()}
	}

	if ev.Type == domain.EventUnknown {
		d.metrics.IncrEvent(string(ev.Type), "ignored")
		d.logger.Debug("ignoring unrecognised event", zap.String("type", ev.RawType))
		return ack(), nil
	}

	if ev.Type != domain.EventCallIncoming {
		if _, err := d.sessions.Get(ctx, ev.Data.CallID); err != nil {
			var nf *domain.ErrNotFound
			if errors.As(err, &nf) {
				d.metrics.IncrEvent(string(ev.Type), "rejected")
				d.logger.Warn("event for unknown session",
					zap.String("call_id", ev.Data.CallID),
					zap.String("type", string(ev.Type)),
				)
			}
			return nil, err
		}
	}

	// Only deliveries about to be dispatched are remembered, so an origin
	// retrying a rejected delivery is processed on the retry.
	if id := headers.Get(webhook.HeaderID); id != "" && d.replay != nil {
		if !d.replay.Add(id, start) {
			d.metrics.IncrEvent(string(ev.Type), "duplicate")
			return ack(), nil
		}
	}

	d.metrics.IncrEvent(string(ev.Type), "accepted")
	d.dispatch(ctx, &ev)
	return ack(), nil
}

// dispatch runs the event on a goroutine detached from the request: it keeps
// the request's values and trace but not its cancellation.
func (d *Dispatcher) dispatch(ctx context.Context, ev *domain.InboundEvent) {
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("%v", r)
				}
				d.report(ev, "panic", fmt.Errorf("recovered panic: %w", err))
			}
		}()
		ctx, cancel := context.WithTimeout(detached, d.cfg.DetachedTimeout)
		defer cancel()

		if err := d.bulkhead.Acquire(ctx); err != nil {
			d.report(ev, "bulkhead", err)
			return
		}
		defer d.bulkhead.Release()

		_, err := d.handler.Handle(ctx, ev)
		if err == nil {
			return
		}
		var sc *domain.ErrStateConflict
		if errors.As(err, &sc) {
			d.metrics.IncrEvent(string(ev.Type), "noop")
			observability.CallLogger(d.logger, ev.Data.CallID).Debug("event was a no-op",
				zap.String("state", string(sc.State)),
				zap.String("type", string(ev.Type)),
			)
			return
		}
		d.report(ev, string(ev.Type), err)
	}()
}

func (d *Dispatcher) report(ev *domain.InboundEvent, stage string, err error) {
	d.metrics.IncrEvent(string(ev.Type), "failed")
	d.metrics.IncrDetachedFailure(stage)
	observability.CallLogger(d.logger, ev.Data.CallID).Error("event processing failed",
		zap.String("type", string(ev.Type)),
		zap.String("stage", stage),
		zap.Error(err),
	)
}

// Wait blocks until every detached task has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
