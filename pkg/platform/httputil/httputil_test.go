package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	dErrors "intakehub/pkg/domain-errors"
)

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
		body := decodeBody(t, w)
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("decryption error is generic unless debug", func(t *testing.T) {
		err := dErrors.Wrap(errors.New("message authentication failed"), dErrors.CodeDecryption, "field could not be decrypted")

		w := httptest.NewRecorder()
		WriteError(w, err)
		body := decodeBody(t, w)
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected decryption detail to be hidden")
		}

		w = httptest.NewRecorder()
		WriteErrorDebug(w, err)
		body = decodeBody(t, w)
		if body["error_description"] == nil {
			t.Fatalf("expected debug mode to expose the description")
		}
	})

	t.Run("validation error returns field details", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.Validation("invalid submission",
			dErrors.FieldError{Field: "severity_of_concern", Message: "must be one of mild moderate severe"}))

		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, w.Code)
		}
		body := decodeBody(t, w)
		fields, ok := body["fields"].([]any)
		if !ok || len(fields) != 1 {
			t.Fatalf("expected one field error, got %v", body["fields"])
		}
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
		body := decodeBody(t, w)
		if body["error"] != "bad_request" {
			t.Fatalf("expected error code bad_request, got %q", body["error"])
		}
		if body["error_description"] != "invalid input" {
			t.Fatalf("expected error_description to be returned for bad request")
		}
	})

	t.Run("foreign errors are treated as internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("pq: connection refused"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}
