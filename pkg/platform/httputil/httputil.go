// Package httputil maps domain errors to wire responses so handlers
// never switch on codes themselves.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "pharmatrace/pkg/domain-errors"
)

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded domain error to an HTTP status and JSON body.
// Internal errors never leak their description to the caller.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		body.ErrorDescription = dErrors.MessageOf(err)
	}
	WriteJSON(w, StatusFor(code), body)
}

// StatusFor returns the HTTP status for a domain error code.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeUnauthorized:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeAlreadyExists, dErrors.CodeInvalidState:
		return http.StatusConflict
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeComplianceViolation, dErrors.CodeBatchExpired, dErrors.CodeBatchInactive, dErrors.CodeLimitExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
