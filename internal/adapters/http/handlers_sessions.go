package http

import (
	"net/http"
	"strings"

	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/application"
)

// createSession handles POST /identity/v1/sessions. The route sits behind the
// internal shared secret: only the gateway calls it, after the external
// identity provider has authenticated the caller.
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req application.CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(ctx, w, "create_session", err)
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = readIP(r)
	}

	resp, err := h.service.CreateSession(ctx, req, strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	if err != nil {
		writeMappedError(ctx, w, "create_session", err)
		return
	}
	writeSuccess(w, http.StatusCreated, resp)
}

func (h *Handler) refreshSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, ok := tokenFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing bearer token")
		return
	}

	resp, err := h.service.Refresh(ctx, token)
	if err != nil {
		writeMappedError(ctx, w, "refresh_session", err)
		return
	}
	writeSuccess(w, http.StatusOK, resp)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, ok := tokenFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing bearer token")
		return
	}

	items, err := h.service.ListSessions(ctx, token)
	if err != nil {
		writeMappedError(ctx, w, "list_sessions", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"sessions": items})
}

// sessionStatus reads the bearer itself so an expired session can still be
// reported as expired instead of rejected at the middleware.
func (h *Handler) sessionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing bearer token")
		return
	}

	resp, err := h.service.SessionStatus(ctx, token)
	if err != nil {
		writeMappedError(ctx, w, "session_status", err)
		return
	}
	writeSuccess(w, http.StatusOK, resp)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing bearer token")
		return
	}

	if err := h.service.Logout(ctx, token); err != nil {
		writeMappedError(ctx, w, "logout", err)
		return
	}
	writeMessage(w, http.StatusOK, "logged out")
}

// cleanupJob handles POST /identity/v1/jobs/cleanup behind the job secret.
// The sweep is idempotent, so overlapping scheduler runs are harmless.
func (h *Handler) cleanupJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.service.CleanupExpired(ctx)
	if err != nil {
		writeMappedError(ctx, w, "cleanup_job", err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}
