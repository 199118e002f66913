package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/hub"
)

// Config carries the adapter-level knobs: shared secrets for the internal and
// job routes, and the key used to sign fingerprint hint cookies.
type Config struct {
	InternalSecret string
	JobSecret      string
	CookieSecret   string
	CookieTTLDays  int
}

// Handler is the HTTP adapter entrypoint for identity use-cases.
// Keeping only application dependency here preserves clean adapter boundaries.
type Handler struct {
	service *application.Service
	hub     *hub.Hub
	cfg     Config
}

// NewHandler constructs an HTTP handler bound to application service.
func NewHandler(service *application.Service, pushHub *hub.Hub, cfg Config) *Handler {
	return &Handler{service: service, hub: pushHub, cfg: cfg}
}

// NewRouter registers the identity HTTP routes and middleware stack.
// Centralizing routes here ensures consistent auth and error behavior across endpoints.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Post("/trial/consume", handler.trialConsume)
	r.Get("/trial/status", handler.trialStatus)

	r.Route("/identity/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(sharedSecretMiddleware("X-Internal-Secret", handler.cfg.InternalSecret))
			r.Post("/sessions", handler.createSession)
		})
		r.Group(func(r chi.Router) {
			r.Use(sharedSecretMiddleware("X-Job-Secret", handler.cfg.JobSecret))
			r.Post("/jobs/cleanup", handler.cleanupJob)
		})

		// Status and logout stay outside the auth middleware: an expired
		// session must still report as expired, and logging one out is a
		// no-op success rather than a 401.
		r.Get("/sessions/status", handler.sessionStatus)
		r.Post("/sessions/logout", handler.logout)

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)
			r.Post("/sessions/refresh", handler.refreshSession)
			r.Get("/sessions", handler.listSessions)
			r.Get("/devices", handler.listDevices)
			r.Post("/devices/actions", handler.deviceAction)
			r.Get("/sync/status", handler.syncStatus)
			r.Post("/sync/actions", handler.syncAction)
			r.Get("/sync/ws", handler.syncWebsocket)
			r.Get("/security/events", handler.securityEvents)
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing bearer token")
			return
		}

		claims, err := h.service.ValidateSession(r.Context(), raw)
		if err != nil {
			status, code, msg := mapDomainError(err)
			writeError(w, status, code, msg)
			return
		}

		ctx := r.Context()
		ctx = context.WithValue(ctx, ctxKeyTokenRaw, raw)
		ctx = context.WithValue(ctx, ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromContext(r *http.Request) (string, bool) {
	v := r.Context().Value(ctxKeyTokenRaw)
	token, ok := v.(string)
	return token, ok
}
