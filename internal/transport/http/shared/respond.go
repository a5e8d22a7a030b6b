// Package shared centralizes JSON response envelopes so every handler speaks
// the same dialect.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "permitgate/pkg/domain-errors"
)

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError translates a domain error into its HTTP status and envelope.
// Unrecognized errors surface as internal without leaking detail.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code)}
	var de *dErrors.Error
	if code != dErrors.CodeInternal && errors.As(err, &de) {
		resp.Message = de.Message
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), resp)
}
