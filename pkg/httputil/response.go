// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/platinummonkey/hiregate/pkg/errors"
	"github.com/platinummonkey/hiregate/pkg/observability"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody describes a failed request. Required and CallerRole are only
// set on permission denials.
type ErrorBody struct {
	Kind       apperrors.Kind `json:"kind"`
	Message    string         `json:"message"`
	Required   []string       `json:"required,omitempty"`
	CallerRole string         `json:"caller_role,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) wrapping data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// WriteCreated writes a successful creation response (201 Created) wrapping data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, Envelope{Success: true, Data: data})
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.KindForbidden:
		return http.StatusForbidden
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as an error envelope. Internal causes are logged
// against the request and replaced by a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	body := &ErrorBody{Kind: apperrors.KindOf(err)}

	if typed, ok := apperrors.As(err); ok {
		body.Message = typed.Message
		body.Required = typed.Required
		body.CallerRole = typed.CallerRole
	}
	if body.Kind == apperrors.KindInternal {
		observability.FromContext(r.Context()).WithError(err).Error("Request failed")
		body.Message = "internal server error"
		body.Required = nil
		body.CallerRole = ""
	}
	if body.Message == "" {
		body.Message = err.Error()
	}

	_ = WriteJSON(w, StatusFor(body.Kind), Envelope{Success: false, Error: body})
}

// WriteErrorMessage writes an error envelope of kind with message.
func WriteErrorMessage(w http.ResponseWriter, kind apperrors.Kind, message string) {
	_ = WriteJSON(w, StatusFor(kind), Envelope{
		Success: false,
		Error:   &ErrorBody{Kind: kind, Message: message},
	})
}

// WriteBadRequest writes a validation error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, apperrors.KindValidation, message)
}

// WriteUnauthorized writes an unauthenticated error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, apperrors.KindUnauthenticated, message)
}
