package adapthttp

import (
	"net/http"

	"github.com/Tabares32/shipping-backend/internal/domain"
)

type storageResponse struct {
	Key       string       `json:"key"`
	Value     domain.Value `json:"value"`
	UpdatedAt *float64     `json:"updated_at"`
}

// handleStorage serves GET and POST on /api/storage/{key}.
func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	switch r.Method {
	case http.MethodGet:
		e, ok, err := s.storage.Get(r.Context(), key)
		if err != nil {
			writeError(w, err)
			return
		}
		resp := storageResponse{Key: key}
		if ok {
			ts := domain.UnixSeconds(e.UpdatedAt)
			resp.Value, resp.UpdatedAt = e.Value, &ts
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req struct {
			Value domain.Value `json:"value"`
		}
		if err := parseJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		e, err := s.storage.Set(r.Context(), key, req.Value)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":         true,
			"key":        key,
			"updated_at": domain.UnixSeconds(e.UpdatedAt),
		})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}
