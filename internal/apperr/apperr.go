// Package apperr defines the closed set of error kinds the edge layer can
// surface to clients, and the single boundary that turns any error into the
// stable {kind, message} envelope.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// Kind identifies one client-facing failure category.
type Kind string

const (
	KindBadRequest   Kind = "BAD_REQUEST"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindRateLimit    Kind = "RATE_LIMIT"
	KindInternal     Kind = "INTERNAL"
)

// Status maps a kind to its HTTP status code. Unrecognized kinds map to 500.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Operational reports whether the kind describes an expected client-facing
// failure rather than an internal defect.
func (k Kind) Operational() bool {
	switch k {
	case KindBadRequest, KindUnauthorized, KindForbidden, KindNotFound, KindRateLimit:
		return true
	}
	return false
}

// genericMessage is what clients see for any internal failure outside
// development mode. The real detail only goes to the operator log.
const genericMessage = "internal server error"

// Error is the tagged error carried between pipeline stages. Message is the
// client-facing text for operational kinds; Err holds the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error with the given kind and client-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// BadRequest reports malformed input detected by a handler.
func BadRequest(message string) *Error { return New(KindBadRequest, message) }

// Unauthorized reports missing or invalid credentials.
func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

// Forbidden reports an authenticated but not permitted request.
func Forbidden(message string) *Error { return New(KindForbidden, message) }

// NotFound reports an absent resource or an unmatched route.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// RateLimited reports a rate limiter rejection.
func RateLimited(message string) *Error { return New(KindRateLimit, message) }

// Internal wraps an unexpected failure. Clients only ever see the generic
// message for these.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: genericMessage, Err: err}
}

// From coerces an arbitrary error into a typed one. Errors without a
// recognized kind become INTERNAL so raw detail never leaks to clients.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// envelope is the wire shape of every non-2xx response:
//
//	{"kind": "NOT_FOUND", "message": "..."}
type envelope struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Write serializes err to w as the error envelope. Recognized kinds are sent
// verbatim. INTERNAL errors log full detail (method, path, client address,
// request id, cause) and respond with the generic message, unless devMode
// substitutes the underlying detail.
func Write(w http.ResponseWriter, r *http.Request, err error, devMode bool) {
	e := From(err)

	msg := e.Message
	if e.Kind == KindInternal || !e.Kind.Operational() {
		detail := e.Message
		if e.Err != nil {
			detail = e.Err.Error()
		}
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			log.Printf("apperr: internal error on %s %s from %s (req_id=%s): %s", r.Method, r.URL.Path, r.RemoteAddr, reqID, detail)
		} else {
			log.Printf("apperr: internal error on %s %s from %s: %s", r.Method, r.URL.Path, r.RemoteAddr, detail)
		}

		msg = genericMessage
		if devMode {
			msg = detail
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Kind.Status())
	if encErr := json.NewEncoder(w).Encode(envelope{Kind: e.Kind, Message: msg}); encErr != nil {
		log.Printf("apperr: writing error envelope failed: %v", encErr)
	}
}
