package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DeKaN/ha-boneco/internal/audit"
	"github.com/DeKaN/ha-boneco/internal/pairing"
)

// NewPairingService adapts a pairing manager to the API.
func NewPairingService(m *pairing.Manager) PairingService {
	return managerService{m}
}

type managerService struct {
	*pairing.Manager
}

func (s managerService) StartFlow(ctx context.Context, address string) (pairing.Status, error) {
	f, err := s.Start(ctx, address)
	if err != nil {
		return pairing.Status{}, err
	}
	return f.Status(), nil
}

func (s managerService) RetryFlow(id string) (pairing.Status, error) {
	f, err := s.Retry(id)
	if err != nil {
		return pairing.Status{}, err
	}
	return f.Status(), nil
}

func (s managerService) FlowStatus(id string) (pairing.Status, bool) {
	f, ok := s.Get(id)
	if !ok {
		return pairing.Status{}, false
	}
	return f.Status(), true
}

// handleDiscovery lists pairable devices currently advertising.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	found, err := s.pairing.Discovered(r.Context())
	if err != nil && !errors.Is(err, pairing.ErrNoDevicesFound) {
		s.writeServiceError(w, r, err)
		return
	}
	if found == nil {
		found = []pairing.Discovery{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": found, "count": len(found)})
}

// handleListFlows lists known pairing flows, newest first.
func (s *Server) handleListFlows(w http.ResponseWriter, _ *http.Request) {
	flows := s.pairing.List()
	if flows == nil {
		flows = []pairing.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": flows, "count": len(flows)})
}

// startFlowRequest is the body of POST /pairing/flows.
type startFlowRequest struct {
	Address string `json:"address"`
}

// handleStartFlow confirms pairing with a discovered device. The flow runs
// in the background; progress is pushed on the pairing.flow channel.
func (s *Server) handleStartFlow(w http.ResponseWriter, r *http.Request) {
	var req startFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "address is required")
		return
	}

	st, err := s.pairing.StartFlow(r.Context(), req.Address)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("pairing flow started via API", "flow_id", st.FlowID, "address", st.Address)
	s.recordAudit(r, audit.ActionPairingStart, st.Address, map[string]any{"flow_id": st.FlowID})
	writeJSON(w, http.StatusCreated, st)
}

// handleGetFlow returns the status of one flow.
func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	st, ok := s.pairing.FlowStatus(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "pairing flow not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCancelFlow aborts a flow.
func (s *Server) handleCancelFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.pairing.Cancel(id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	st, _ := s.pairing.FlowStatus(id)
	s.recordAudit(r, audit.ActionPairingCancel, st.Address, map[string]any{"flow_id": id})
	writeJSON(w, http.StatusOK, st)
}

// handleRetryFlow restarts a timed-out flow.
func (s *Server) handleRetryFlow(w http.ResponseWriter, r *http.Request) {
	st, err := s.pairing.RetryFlow(chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordAudit(r, audit.ActionPairingRetry, st.Address, map[string]any{"flow_id": st.FlowID, "attempt": st.Attempt})
	writeJSON(w, http.StatusOK, st)
}
