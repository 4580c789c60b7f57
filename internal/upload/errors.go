package upload

import (
	"fmt"
	"net/http"
)

// Error is a request the gateway refuses. Status is the HTTP status the
// handler answers with and Message is shown to the client verbatim.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func reject(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func badRequest(message string) *Error {
	return reject(http.StatusBadRequest, message)
}

func tooLarge(limit int64) *Error {
	return reject(http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large (max %d bytes)", limit))
}

func alreadyExists() *Error {
	return reject(http.StatusConflict, "Object already exists (use ?overwrite=1 to overwrite)")
}

// Rejection messages.
const (
	msgInvalidEncoding    = "Invalid key encoding"
	msgMissingContentType = "Missing Content-Type header"
	msgMissingBody        = "Missing request body"
)
