// Package api holds the shared JSON response helpers used by every handler
// package. All errors leave the edge through WriteError — the single funnel
// that maps typed errors to wire responses.
package api

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// WriteError writes a JSON error response. code is a stable machine-readable
// identifier; detail is a short human-readable message carrying no
// source-level information.
func WriteError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: code, Detail: detail})
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
