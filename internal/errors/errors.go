// Package errors builds the JSON error envelope returned by the HTTP
// service.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// Error codes used in envelopes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// HTTPErrorResponse is the body of every error response. The request id
// travels as the envelope's correlation_id.
type HTTPErrorResponse struct {
	Error *gferrors.ErrorEnvelope `json:"error"`
}

// AppError is an error with an HTTP status and envelope code.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails returns a copy of e with details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	out := *e
	out.Details = make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		out.Details[k] = v
	}
	for k, v := range details {
		out.Details[k] = v
	}
	return &out
}

// NewBadRequest reports invalid client input.
func NewBadRequest(message string) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message}
}

// NewNotFound reports a missing route or resource.
func NewNotFound(message string) *AppError {
	return &AppError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

// NewMethodNotAllowed reports a route hit with the wrong method.
func NewMethodNotAllowed(message string) *AppError {
	return &AppError{Status: http.StatusMethodNotAllowed, Code: CodeMethodNotAllowed, Message: message}
}

// NewConflict reports an action rejected because one is already running.
func NewConflict(message string) *AppError {
	return &AppError{Status: http.StatusConflict, Code: CodeConflict, Message: message}
}

// NewInternal reports an unexpected failure.
func NewInternal(message string, err error) *AppError {
	return &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Err: err}
}

// NewServiceUnavailable reports a dependency that is down.
func NewServiceUnavailable(message string) *AppError {
	return &AppError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message}
}

// From returns err as an AppError. Errors that are not already one become
// a 500. Backend failures never reach here: the fragment endpoints report
// them in-band with ok false.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if stderrors.As(err, &app) {
		return app
	}
	return NewInternal("internal error", err)
}

// RequestIDFunc extracts the request id from a request. The middleware
// package installs it so this package need not import it.
var RequestIDFunc = func(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.Header.Get("X-Request-ID")
}

// NewEnvelope builds the envelope for app, correlated with id.
func NewEnvelope(app *AppError, id string) *gferrors.ErrorEnvelope {
	return gferrors.NewErrorEnvelope(app.Code, app.Message).
		WithCorrelationID(id).
		WithDetails(app.Details)
}

// RespondWithError writes err as a JSON envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	app := From(err)
	if app == nil {
		app = NewInternal("unknown error", nil)
	}
	env := NewEnvelope(app, RequestIDFunc(r))
	if r != nil {
		env = env.WithPath(r.URL.Path)
	}
	WriteError(w, app.Status, env)
}

// WriteError writes env with status.
func WriteError(w http.ResponseWriter, status int, env *gferrors.ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: env})
}
