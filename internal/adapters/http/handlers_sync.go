package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
)

type syncActionRequest struct {
	Action              string         `json:"action"`
	EventID             string         `json:"event_id,omitempty"`
	EventType           string         `json:"event_type,omitempty"`
	EventData           map[string]any `json:"event_data,omitempty"`
	AlertID             string         `json:"alert_id,omitempty"`
	TargetDeviceID      string         `json:"target_device_id,omitempty"`
	ConflictDeviceID    string         `json:"conflict_device_id,omitempty"`
	PollIntervalSeconds *int           `json:"poll_interval_seconds,omitempty"`
	PushEnabled         *bool          `json:"push_enabled,omitempty"`
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, ok := tokenFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing bearer token")
		return
	}

	resp, err := h.service.SyncStatus(ctx, token)
	if err != nil {
		writeMappedError(ctx, w, "sync_status", err)
		return
	}
	writeSuccess(w, http.StatusOK, resp)
}

// syncAction handles POST /identity/v1/sync/actions: sync event management,
// alert lifecycle transitions and the authenticated cleanup delegate.
func (h *Handler) syncAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, ok := tokenFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing bearer token")
		return
	}

	var req syncActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(ctx, w, "sync_action", err)
		return
	}

	var (
		result application.ActionResult
		err    error
	)
	switch req.Action {
	case "create_event", "create_sync_event":
		result, err = h.service.CreateSyncEvent(ctx, token, domain.SyncEventType(req.EventType), req.EventData)
	case "detect_conflicts":
		// target_device_id is optional; the caller's own device is the default.
		var target uuid.UUID
		if req.TargetDeviceID != "" {
			parsed, parseErr := uuid.Parse(req.TargetDeviceID)
			if parseErr != nil {
				writeValidationError(ctx, w, "sync_action", fmt.Errorf("invalid target_device_id: %v", parseErr))
				return
			}
			target = parsed
		}
		result, err = h.service.DetectConflictsAction(ctx, token, target)
	case "handle_conflicts":
		conflictID, parseErr := uuid.Parse(req.ConflictDeviceID)
		if parseErr != nil {
			writeValidationError(ctx, w, "sync_action", fmt.Errorf("invalid conflict_device_id: %v", parseErr))
			return
		}
		result, err = h.service.HandleConflictsAction(ctx, token, conflictID)
	case "process_event":
		eventID, parseErr := uuid.Parse(req.EventID)
		if parseErr != nil {
			writeValidationError(ctx, w, "sync_action", fmt.Errorf("invalid event_id: %v", parseErr))
			return
		}
		result, err = h.service.ProcessSyncEvent(ctx, token, eventID)
	case "update_config":
		var cfg domain.SyncConfig
		cfg, err = h.service.UpdateSyncConfig(ctx, token, req.PollIntervalSeconds, req.PushEnabled)
		if err == nil {
			result = application.ActionResult{
				Success: true,
				Message: "sync config updated",
				Data: map[string]any{
					"poll_interval_seconds": cfg.PollIntervalSeconds,
					"push_enabled":          cfg.PushEnabled,
				},
			}
		}
	case "acknowledge_alert":
		result, err = h.alertAction(ctx, token, req.AlertID, h.service.AcknowledgeAlert)
	case "resolve_alert":
		result, err = h.alertAction(ctx, token, req.AlertID, h.service.ResolveAlert)
	case "dismiss_alert":
		result, err = h.alertAction(ctx, token, req.AlertID, h.service.DismissAlert)
	case "cleanup_sessions":
		var cleaned application.CleanupResult
		cleaned, err = h.service.CleanupExpired(ctx)
		if err == nil {
			result = application.ActionResult{
				Success: true,
				Message: "cleanup complete",
				Data: map[string]any{
					"sessions_deleted":      cleaned.SessionsDeleted,
					"sync_events_deleted":   cleaned.SyncEventsDeleted,
					"trial_actions_deleted": cleaned.TrialActionsDeleted,
				},
			}
		}
	default:
		writeValidationError(ctx, w, "sync_action", fmt.Errorf("unknown action %q", req.Action))
		return
	}
	if err != nil {
		writeMappedError(ctx, w, "sync_action", err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

func (h *Handler) alertAction(
	ctx context.Context,
	token, rawAlertID string,
	fn func(ctx context.Context, token string, alertID uuid.UUID) (application.ActionResult, error),
) (application.ActionResult, error) {
	alertID, err := uuid.Parse(rawAlertID)
	if err != nil {
		return application.ActionResult{}, fmt.Errorf("%w: invalid alert_id", domain.ErrInvalidInput)
	}
	return fn(ctx, token, alertID)
}

func (h *Handler) securityEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, ok := tokenFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing bearer token")
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	events, err := h.service.SecurityEvents(ctx, token, limit, offset, nil)
	if err != nil {
		writeMappedError(ctx, w, "security_events", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"events": events})
}
