package handler

// RESPONSE HELPERS:
// Every JSON response goes through writeJSON, every error through
// writeError, so the frontend always sees the same shape:
//   {"error": "conflict", "message": "A report is already being generated..."}
//
// WHY HELPERS?
// Report, data, user and auth handlers all answer in JSON. Without a single
// writer each of them would repeat the header, status and encode steps, and
// sooner or later one would forget the Content-Type.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/github-report/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers must be set before WriteHeader. Once the status line is sent,
// later header changes are silently dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	apperror.ErrValidation   → 400 validation_error
//	apperror.ErrUnauthorized → 401 unauthorized
//	apperror.ErrForbidden    → 403 forbidden
//	apperror.ErrNotFound     → 404 not_found
//	apperror.ErrConflict     → 409 conflict       (report already generating)
//	apperror.ErrUpstream     → 502 upstream_error (GitHub or the engine failed)
//	apperror.ErrConfig       → 500 config_error
//	anything else            → 500 internal_error
//
// WHY HERE AND NOT IN THE SERVICE?
// Services speak in domain errors and know nothing about HTTP. The same
// pipeline feeds SSE streams, where failures become generate_error events
// instead of status codes.
//
// errors.Is walks the whole chain, so a service error like
//
//	fmt.Errorf("service/auth: fetching user: %w", apperror.Upstream(...))
//
// still maps to 502. Only AppError.Message reaches the client.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest // 400
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized // 401
			errorType = "unauthorized"
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden // 403
			errorType = "forbidden"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound // 404
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict // 409
			errorType = "conflict"
		case errors.Is(err, apperror.ErrUpstream):
			status = http.StatusBadGateway // 502
			errorType = "upstream_error"
		case errors.Is(err, apperror.ErrConfig):
			errorType = "config_error"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
		})
		return
	}

	// Never expose raw error text: it may carry URLs, tokens or upstream bodies.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
