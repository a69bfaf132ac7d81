// Package handler contains the HTTP handlers of the fixjam server.
package handler

// RESPONSE HELPERS:
// Every JSON response goes through writeJSON, every failure through
// writeError, so all errors share one shape:
//   {"error": "not_found", "message": "identity not found with id abc123"}
//
// The service layer never sees HTTP. writeError is the single place where an
// apperror class becomes a status code.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/middleware"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be set before the body is written.
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
//	ErrValidation             → 400
//	ErrUnauthorized           → 401
//	ErrForbidden              → 403
//	ErrNotFound               → 404
//	ErrConflict               → 409
//	ErrPrecondition           → 412
//	ErrProviderFetch          → 502
//	ErrBanned                 → 603 (body "b&", same as the middleware)
//	anything else             → 500
//
// ErrIncompatibleIdentities is recovered by the identity middleware and
// should never reach a handler; if it does it is a 500 like any other bug.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, apperror.ErrBanned) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(middleware.StatusBanned)
		w.Write([]byte(middleware.BannedBody))
		return
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"
		message := appErr.Message

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized
			errorType = "unauthorized"
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden
			errorType = "forbidden"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
			errorType = "conflict"
		case errors.Is(err, apperror.ErrPrecondition):
			status = http.StatusPreconditionFailed
			errorType = "precondition_failed"
		case errors.Is(err, apperror.ErrProviderFetch):
			status = http.StatusBadGateway
			errorType = "provider_unavailable"
		default:
			message = "An internal error occurred"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: message,
		})
		return
	}

	// Unknown errors never leak their text: it may contain SQL or file paths.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads a JSON request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "invalid JSON body")
	}
	return nil
}
