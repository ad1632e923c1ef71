package cluster

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ParseRequestBody decodes a JSON request body into dest. On failure it
// writes a 400 response and returns false.
func ParseRequestBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		slog.Error("error parsing request body", "error", err)
		http.Error(w, fmt.Sprintf("error parsing request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// WriteJSON writes data with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("error serializing response body", "error", err)
	}
}

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// WriteError writes err as an ErrorResponse with the given status. kind is the
// machine-readable failure class; pass "" when there is none.
//
// Example:
//
//	if errors.Is(err, deployer.ErrConflict) {
//	    cluster.WriteError(w, http.StatusConflict, deployer.Kind(err), err)
//	    return
//	}
func WriteError(w http.ResponseWriter, status int, kind string, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}
