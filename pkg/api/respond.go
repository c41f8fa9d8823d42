package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/odvcencio/inhabit/pkg/errors"
)

// respondJSON sends an indented JSON response.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// errorResponse is the wire shape of a failed request.
type errorResponse struct {
	Error       string   `json:"error"`
	Status      int      `json:"status"`
	Code        string   `json:"code,omitempty"`
	Remediation []string `json:"remediation,omitempty"`
	Retryable   bool     `json:"retryable,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// respondError sends a structured JSON error, surfacing the taxonomy
// fields when the error carries them.
func respondError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{
		Status:    status,
		Error:     http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if coded, ok := err.(*errors.Error); ok {
		resp.Code = string(coded.Code)
		if coded.UserMessage != "" {
			resp.Error = coded.UserMessage
		} else if coded.Message != "" {
			resp.Error = coded.Message
		}
		resp.Remediation = append([]string(nil), coded.Remediation...)
		resp.Retryable = coded.Retryable
	} else if err != nil {
		resp.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
