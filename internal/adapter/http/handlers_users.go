package adapthttp

import (
	"net/http"

	"github.com/Tabares32/shipping-backend/internal/app"
)

// handleUsers serves GET (admin list) and POST (create) on /api/users.
// Creation passes anonymous callers through so open signup can work.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.requireAuth(s.listUsers)(w, r)
	case http.MethodPost:
		s.optionalAuth(s.createUser)(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.auth.ListUsers(r.Context(), identityFromContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := parseJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	caller := identityFromContext(r)
	user, err := s.auth.CreateUser(r.Context(), caller, app.UserInput{
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.Info(r.Context(), "user created", "username", user.Username, "role", user.Role, "by", callerName(caller))
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "user": user})
}

// handleUser serves PUT and DELETE on /api/users/{id}.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller := identityFromContext(r)

	switch r.Method {
	case http.MethodPut:
		var req struct {
			Username *string `json:"username"`
			Password *string `json:"password"`
			Role     *string `json:"role"`
		}
		if err := parseJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		user, err := s.auth.UpdateUser(r.Context(), caller, id, app.UserPatch{
			Username: req.Username,
			Password: req.Password,
			Role:     req.Role,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		s.log.Info(r.Context(), "user updated", "id", id, "by", callerName(caller))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": user})
	case http.MethodDelete:
		if err := s.auth.DeleteUser(r.Context(), caller, id); err != nil {
			writeError(w, err)
			return
		}
		s.log.Info(r.Context(), "user deleted", "id", id, "by", callerName(caller))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w, http.MethodPut, http.MethodDelete)
	}
}

func callerName(id *app.Identity) string {
	if id == nil {
		return "anonymous"
	}
	return id.Username
}
