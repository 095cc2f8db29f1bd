package adapthttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Tabares32/shipping-backend/internal/app"
)

// maxBodyBytes bounds request bodies; sync uploads carry whole collections.
const maxBodyBytes = 32 << 20

// Machine-readable error codes.
const (
	codeUnauthenticated    = "unauthenticated"
	codeForbidden          = "forbidden"
	codeConflict           = "conflict"
	codeNotFound           = "not_found"
	codeBadRequest         = "bad_request"
	codeStorageUnavailable = "storage_unavailable"
	codeInternal           = "internal_error"
	codeMethodNotAllowed   = "method_not_allowed"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a service error to its status and code. Storage and
// unexpected failures get a fixed message so internals never leak.
func writeError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	msg := err.Error()
	switch code {
	case codeStorageUnavailable:
		msg = "storage unavailable"
	case codeInternal:
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrUnauthenticated):
		return http.StatusUnauthorized, codeUnauthenticated
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, app.ErrConflict):
		return http.StatusConflict, codeConflict
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, app.ErrBadRequest):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, app.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, codeStorageUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Code: codeMethodNotAllowed})
}

// parseJSON decodes a single JSON document from the body into dst. Unknown
// fields are rejected.
func parseJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json: %v", app.ErrBadRequest, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid json: trailing data", app.ErrBadRequest)
	}
	return nil
}

func withNoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
