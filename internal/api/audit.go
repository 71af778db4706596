package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/DeKaN/ha-boneco/internal/audit"
)

// AuditLog stores and lists mutating API calls. Satisfied by
// *audit.SQLiteRepository.
type AuditLog interface {
	Create(ctx context.Context, rec *audit.Record) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// recordAudit stores one audit record. Failures are logged, never returned:
// the audited operation has already happened.
func (s *Server) recordAudit(r *http.Request, action, address string, details map[string]any) {
	if s.audit == nil {
		return
	}
	rec := &audit.Record{
		Action:  action,
		Address: address,
		Source:  audit.SourceAPI,
		Details: details,
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		rec.Subject = claims.Subject
	}
	if err := s.audit.Create(context.WithoutCancel(r.Context()), rec); err != nil {
		s.logger.Warn("failed to record audit entry", "action", action, "error", err)
	}
}

// handleListAudit returns audit records, newest first. Query parameters:
// action, address, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:  q.Get("action"),
		Address: q.Get("address"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
