package http

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/application"
)

type deviceActionRequest struct {
	Action    string   `json:"action"`
	DeviceID  string   `json:"device_id,omitempty"`
	DeviceIDs []string `json:"device_ids,omitempty"`
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, ok := tokenFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing bearer token")
		return
	}

	items, err := h.service.ListDevices(ctx, token)
	if err != nil {
		writeMappedError(ctx, w, "list_devices", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"devices": items})
}

// deviceAction handles POST /identity/v1/devices/actions, dispatching on the
// action field so device management stays a single authenticated route.
func (h *Handler) deviceAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, ok := tokenFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing bearer token")
		return
	}

	var req deviceActionRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(ctx, w, "device_action", err)
		return
	}

	var (
		result application.ActionResult
		err    error
	)
	switch req.Action {
	case "logout_device":
		deviceID, parseErr := uuid.Parse(req.DeviceID)
		if parseErr != nil {
			writeValidationError(ctx, w, "device_action", fmt.Errorf("invalid device_id: %v", parseErr))
			return
		}
		result, err = h.service.LogoutDevice(ctx, token, deviceID)
	case "logout_other_devices":
		result, err = h.service.LogoutOtherDevices(ctx, token)
	case "logout_multiple_devices":
		deviceIDs := make([]uuid.UUID, 0, len(req.DeviceIDs))
		for _, raw := range req.DeviceIDs {
			deviceID, parseErr := uuid.Parse(raw)
			if parseErr != nil {
				writeValidationError(ctx, w, "device_action", fmt.Errorf("invalid device id %q: %v", raw, parseErr))
				return
			}
			deviceIDs = append(deviceIDs, deviceID)
		}
		result, err = h.service.LogoutMultipleDevices(ctx, token, deviceIDs)
	case "trust_device":
		deviceID, parseErr := uuid.Parse(req.DeviceID)
		if parseErr != nil {
			writeValidationError(ctx, w, "device_action", fmt.Errorf("invalid device_id: %v", parseErr))
			return
		}
		result, err = h.service.TrustDevice(ctx, token, deviceID)
	case "untrust_device":
		deviceID, parseErr := uuid.Parse(req.DeviceID)
		if parseErr != nil {
			writeValidationError(ctx, w, "device_action", fmt.Errorf("invalid device_id: %v", parseErr))
			return
		}
		result, err = h.service.UntrustDevice(ctx, token, deviceID)
	default:
		writeValidationError(ctx, w, "device_action", fmt.Errorf("unknown action %q", req.Action))
		return
	}
	if err != nil {
		writeMappedError(ctx, w, "device_action", err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}
