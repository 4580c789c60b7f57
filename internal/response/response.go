// Package response provides the JSON envelope every gateway response uses.
package response

import (
	"encoding/json"
	"net/http"
)

// Envelope is the error / bare-success body.
type Envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Upload is the body of a successful upload.
type Upload struct {
	OK   bool   `json:"ok"`
	Key  string `json:"key"`
	ETag string `json:"etag"`
	URL  string `json:"url"`
}

// JSON writes payload pretty-printed with the given HTTP status code.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"ok": false, "error": "Internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// OK writes a 200 {"ok": true}.
func OK(w http.ResponseWriter) {
	JSON(w, http.StatusOK, Envelope{OK: true})
}

// Error writes an error response with the given status and message.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Envelope{OK: false, Error: message})
}

// BadRequest writes a 400 response.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter) {
	Error(w, http.StatusUnauthorized, "Unauthorized")
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter) {
	Error(w, http.StatusNotFound, "Not found")
}

// MethodNotAllowed writes a 405 response.
func MethodNotAllowed(w http.ResponseWriter, message string) {
	Error(w, http.StatusMethodNotAllowed, message)
}

// InternalError writes a 500 response with a generic message.
func InternalError(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, "Internal server error")
}
