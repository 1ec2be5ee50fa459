// Package api exposes the HTTP surface of the pipeline: issuance,
// verification, onboarding, and the idempotency stores behind them. Errors
// are RFC 7807 Problem Details; /issue and /sign honor X-Idempotency-Key,
// /onboard does not.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/grcorsair/corsair/pkg/poerr"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://grcorsair.com/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteClassified maps a pipeline error to its HTTP status and writes it.
func WriteClassified(w http.ResponseWriter, r *http.Request, err error) {
	class := poerr.ClassOf(err)
	WriteError(w, r, poerr.HTTPStatus(class), string(class), err.Error())
}

// WriteJSON writes a JSON response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
