package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError, so the wire format
// lives in one place.
//
// ERROR FORMAT:
// Errors keep the shape existing clients already parse:
//   {"error": "Sorry it's not your turn yet"}
// Partial successes (the write happened, a follow-up mail did not) use:
//   {"warning": "There was an error to contact your penfriend, ..."}
//
// Client mistakes answer 412 Precondition Failed, not 400/404.

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/sakif/pairshot/internal/apperror"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WarningResponse is the body of a partial success.
type WarningResponse struct {
	Warning string `json:"warning"`
}

const msgInternal = "An internal error occurred"

// writeJSON sends data as JSON with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body is written; once Encode
// writes, later header changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to its HTTP status and body.
//
//	ErrValidation, ErrNotFound, ErrConflict -> 412 {"error"}
//	ErrExpectation                          -> 417 {"error"}
//	ErrUnauthorized                         -> 401 {"error"}
//	ErrWarning                              -> 412 {"warning"}
//	anything else                           -> 500, details only in the log
//
// errors.As walks the wrap chain, so services may add context with
// fmt.Errorf("...: %w", err) without changing the response.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		switch {
		case errors.Is(err, apperror.ErrWarning):
			writeJSON(w, http.StatusPreconditionFailed, WarningResponse{Warning: appErr.Message})
			return
		case errors.Is(err, apperror.ErrUnauthorized):
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: appErr.Message})
			return
		case errors.Is(err, apperror.ErrExpectation):
			writeJSON(w, http.StatusExpectationFailed, ErrorResponse{Error: appErr.Message})
			return
		case errors.Is(err, apperror.ErrValidation),
			errors.Is(err, apperror.ErrNotFound),
			errors.Is(err, apperror.ErrConflict):
			writeJSON(w, http.StatusPreconditionFailed, ErrorResponse{Error: appErr.Message})
			return
		}
	}

	// NEVER expose internal error details: they can carry SQL or file paths.
	slog.Error("request failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgInternal})
}
