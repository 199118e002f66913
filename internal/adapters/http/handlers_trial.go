package http

import (
	"net/http"
	"strings"

	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/application"
)

// trialConsume handles POST /trial/consume. Quota denials (exhausted, rate
// limited, blocked) come back as 200 with success=false so clients keep one
// decode path; only malformed requests map to 4xx.
func (h *Handler) trialConsume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req application.TrialConsumeRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(ctx, w, "trial_consume", err)
		return
	}
	if strings.TrimSpace(req.Fingerprint) == "" {
		if fp, ok := h.fingerprintFromCookie(r); ok {
			req.Fingerprint = fp
		}
	}
	req.ClientIP = readIP(r)
	req.UserAgent = r.UserAgent()

	resp, err := h.service.ConsumeTrial(ctx, req)
	if err != nil {
		writeMappedError(ctx, w, "trial_consume", err)
		return
	}

	h.setFingerprintCookie(w, req.Fingerprint)
	writeSuccess(w, http.StatusOK, resp)
}

// trialStatus handles GET /trial/status?fingerprint=. The signed cookie is
// the fallback source when the query parameter is absent.
func (h *Handler) trialStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	fingerprint := strings.TrimSpace(r.URL.Query().Get("fingerprint"))
	if fingerprint == "" {
		if fp, ok := h.fingerprintFromCookie(r); ok {
			fingerprint = fp
		}
	}
	if fingerprint == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "fingerprint is required")
		return
	}

	status, err := h.service.TrialStatus(ctx, fingerprint)
	if err != nil {
		writeMappedError(ctx, w, "trial_status", err)
		return
	}
	writeSuccess(w, http.StatusOK, status)
}
