package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/opera-os/opera/internal/security"
	"github.com/opera-os/opera/internal/tools"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encode failure only means the client went away.
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// resolvePermissions turns the caller's permission tokens into the set a
// plan may use. An unknown token is a 400. With a token in the request the
// result must fit inside its grant (403); without one, omitted permissions
// fall back to the server defaults.
func (s *Server) resolvePermissions(r *http.Request, tokens []string) ([]tools.Permission, int, error) {
	requested, err := tools.ParsePermissions(tokens)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	claims, err := security.GetClaims(r)
	if err != nil {
		if requested == nil {
			return s.defaultPerms(), http.StatusOK, nil
		}
		return requested, http.StatusOK, nil
	}

	granted, err := claims.Authorize(requested)
	if err != nil {
		if errors.Is(err, security.ErrPermissionNotGranted) {
			return nil, http.StatusForbidden, err
		}
		return nil, http.StatusInternalServerError, err
	}
	return granted, http.StatusOK, nil
}
