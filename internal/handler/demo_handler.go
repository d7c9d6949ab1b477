package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type demoTokenRequest struct {
	BusinessID string `json:"business_id"`
}

type demoTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func demoTokenHandler(tokens TokenIssuer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/demo/tokens")
		defer span.End()

		var req demoTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.BusinessID) == "" {
			writeError(w, http.StatusBadRequest, "business_id is required")
			return
		}

		token, exp, err := tokens.Issue(req.BusinessID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("demo token issued", zap.String("business_id", req.BusinessID))
		writeJSON(w, http.StatusCreated, demoTokenResponse{Token: token, ExpiresAt: exp})
	}
}
