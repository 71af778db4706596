package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DeKaN/ha-boneco/internal/audit"
	"github.com/DeKaN/ha-boneco/internal/bridges/ble"
)

// History limits for GET /devices/{address}/history.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// handleListDevices returns every running device with its latest state.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device with metadata, state and entities.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	st, err := s.bridge.Device(chi.URLParam(r, "address"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// deviceStateResponse is the body of GET /devices/{address}/state.
type deviceStateResponse struct {
	Address      string         `json:"address"`
	Available    bool           `json:"available"`
	LastUpdate   *time.Time     `json:"last_update,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	PendingWrite bool           `json:"pending_write"`
	State        map[string]any `json:"state"`
}

// handleGetDeviceState returns the entity values of one device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	st, err := s.bridge.Device(chi.URLParam(r, "address"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	state := st.State
	if state == nil {
		state = map[string]any{}
	}
	writeJSON(w, http.StatusOK, deviceStateResponse{
		Address:      st.Entry.Address,
		Available:    st.Available,
		LastUpdate:   st.LastUpdate,
		LastError:    st.LastError,
		PendingWrite: st.PendingWrite,
		State:        state,
	})
}

// handleGetDeviceHistory returns recorded snapshots, newest first.
//
// Query parameters:
//   - limit: number of entries (default 50, max 1000)
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeBadRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	ctx := r.Context()
	entry, err := s.entries.GetByAddress(ctx, chi.URLParam(r, "address"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	history, err := s.history.GetHistory(ctx, entry.ID, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": entry.Address,
		"history": history,
		"count":   len(history),
	})
}

// handleDeleteDevice stops a device and removes its entry.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entry, err := s.entries.GetByAddress(ctx, chi.URLParam(r, "address"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// The entry may exist without a running coordinator if it failed to start.
	if err := s.bridge.RemoveEntry(entry.Address); err != nil && !errors.Is(err, ble.ErrDeviceNotFound) {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.entries.DeleteEntry(ctx, entry.ID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.logger.Info("device removed via API", "address", entry.Address, "entry_id", entry.ID)
	s.recordAudit(r, audit.ActionDeviceDelete, entry.Address, map[string]any{"entry_id": entry.ID})
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshDevice polls a device now and returns the result.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := s.bridge.Refresh(r.Context(), address); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordAudit(r, audit.ActionDeviceRefresh, address, nil)
	st, err := s.bridge.Device(address)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// setEntityRequest is the body of POST /devices/{address}/entities/{key}.
type setEntityRequest struct {
	Value  any    `json:"value"`
	Action string `json:"action,omitempty"`
}

// handleSetEntity queues an entity write or button press. The response is
// sent once the write is queued; the device sees it after the write cooldown.
func (s *Server) handleSetEntity(w http.ResponseWriter, r *http.Request) {
	var req setEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	address := chi.URLParam(r, "address")
	key := chi.URLParam(r, "key")
	cmd := ble.Command{Entity: key, Value: req.Value, Action: req.Action}
	if err := s.bridge.Execute(address, cmd); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	details := map[string]any{"entity": key, "value": req.Value}
	if req.Action != "" {
		details["action"] = req.Action
	}
	s.recordAudit(r, audit.ActionEntityWrite, address, details)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  ble.AckAccepted,
		"address": address,
		"entity":  key,
	})
}
