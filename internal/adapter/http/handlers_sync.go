package adapthttp

import (
	"net/http"

	"github.com/Tabares32/shipping-backend/internal/domain"
)

func (s *Server) handleSyncData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	data, err := s.sync.ExportAll(r.Context(), identityFromContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleSyncUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload map[string]domain.Value
	if err := parseJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}
	if payload == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "body must be an object of collections", Code: codeBadRequest})
		return
	}

	report, err := s.sync.ImportAll(r.Context(), identityFromContext(r), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "data synchronized",
		"report":  report,
	})
}
