// Package httputil renders JSON bodies and domain errors for HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "intakehub/pkg/domain-errors"
)

type errorBody struct {
	Error       string               `json:"error"`
	Description string               `json:"error_description,omitempty"`
	Fields      []dErrors.FieldError `json:"fields,omitempty"`
}

// StatusFor maps a domain code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeValidation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeTooManyRequests:
		return http.StatusTooManyRequests
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// internalClass codes never expose their message to clients.
func internalClass(code dErrors.Code) bool {
	switch code {
	case dErrors.CodeInternal, dErrors.CodeEncryption, dErrors.CodeDecryption, dErrors.CodeInvariantViolation:
		return true
	}
	return false
}

// WriteError writes a client-safe error envelope.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, err, false)
}

// WriteErrorDebug is WriteError with internal descriptions left in place.
// Only wired when the server runs in debug mode.
func WriteErrorDebug(w http.ResponseWriter, err error) {
	writeError(w, err, true)
}

func writeError(w http.ResponseWriter, err error, debug bool) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code), Fields: dErrors.FieldsOf(err)}
	if !internalClass(code) {
		body.Description = messageOf(err)
	} else if debug {
		body.Description = err.Error()
	}
	WriteJSON(w, StatusFor(code), body)
}

func messageOf(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes the request body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}
