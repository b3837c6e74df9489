package carbontrade

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Response is the envelope every JSON endpoint answers with
type Response struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the envelope for failures
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Field  string `json:"field,omitempty"`
}

// WriteJSON encodes v with the given status code
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// WriteData writes a success envelope around data
func WriteData(w http.ResponseWriter, status int, data any, message string) {
	WriteJSON(w, status, Response{Status: "success", Data: data, Message: message})
}

// WriteError writes an error envelope
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Status: "error", Error: message})
}

// WriteAuthError renders an AuthError with its mapped status
func WriteAuthError(w http.ResponseWriter, err *AuthError) {
	WriteJSON(w, err.StatusCode(), ErrorResponse{
		Status: "error",
		Error:  err.Message,
		Code:   err.Code,
		Field:  err.Field,
	})
}

// DecodeJSON reads a JSON request body into v
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
