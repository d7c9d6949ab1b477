package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Webhooks
// ============================================================

func webhookHandler(d WebhookDispatcher, maxBody int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/webhooks/realtime")
		defer span.End()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "could not read body")
			return
		}

		ack, err := d.Handle(ctx, body, r.Header)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int64("ack.ms", ack.ProcessingTimeMs))
		writeJSON(w, http.StatusOK, ack)
	}
}

// ============================================================
// Sessions
// ============================================================

func sessionHandler(sessions SessionReader, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sessions/{callId}")
		defer span.End()

		callID := chi.URLParam(r, "callId")
		span.SetAttributes(attribute.String("call.id", callID))

		s, err := sessions.Session(ctx, callID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}
