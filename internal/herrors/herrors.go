// Package herrors defines Herald's API error taxonomy and its wire envelope.
package herrors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Code is one of the fixed error codes from spec §6.4.
type Code string

const (
	CodeInvalidRequest Code = "invalid_request"
	CodeUnauthorized   Code = "unauthorized"
	CodeForbidden      Code = "forbidden"
	CodeNotFound       Code = "not_found"
	CodeRateLimited    Code = "rate_limited"
	CodeInternal       Code = "internal_error"
)

var statusByCode = map[Code]int{
	CodeInvalidRequest: http.StatusBadRequest,
	CodeUnauthorized:   http.StatusUnauthorized,
	CodeForbidden:      http.StatusForbidden,
	CodeNotFound:       http.StatusNotFound,
	CodeRateLimited:    http.StatusTooManyRequests,
	CodeInternal:       http.StatusInternalServerError,
}

// Error is Herald's single application error type. Handlers map it directly
// to the §6.4 JSON envelope; internal callers use errors.As to recover Code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code this error should be surfaced as.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error that records an underlying cause (logged, never
// shown to the caller).
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// As recovers a *Error from any error chain, or reports ok=false.
func As(err error) (*Error, bool) {
	var herr *Error
	if errors.As(err, &herr) {
		return herr, true
	}
	return nil, false
}

// envelope is the wire shape from spec §6.4.
type envelope struct {
	Error envelopeBody `json:"error"`
}

type envelopeBody struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// WriteJSON writes err (coerced to *Error if necessary) as the §6.4 envelope.
func WriteJSON(w http.ResponseWriter, requestID string, err error) {
	herr, ok := As(err)
	if !ok {
		herr = Wrap(CodeInternal, "internal error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(herr.HTTPStatus())

	_ = json.NewEncoder(w).Encode(envelope{Error: envelopeBody{
		Code:      herr.Code,
		Message:   herr.Message,
		RequestID: requestID,
	}})
}
