package backendapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for backend calls.
var (
	// ErrTransport indicates the request never produced an HTTP response.
	ErrTransport = errors.New("backend unreachable")

	// ErrMalformed indicates the response body was not parseable JSON.
	ErrMalformed = errors.New("malformed response body")
)

// Kind classifies a backend failure for logging.
type Kind string

const (
	KindNone      Kind = ""
	KindTransport Kind = "transport"
	KindStatus    Kind = "status"
	KindMalformed Kind = "malformed"
	KindCanceled  Kind = "canceled"
	KindUnknown   Kind = "unknown"
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int

	// Detail is the server-provided `detail` text, or the trimmed body when
	// the body carries no detail field.
	Detail string

	// Body is the raw response body when it was valid JSON.
	Body json.RawMessage
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// RequestError wraps a failed backend call with the operation and path.
type RequestError struct {
	// Op is the client operation (e.g., "BatchStatus").
	Op string

	Method string
	Path   string

	// Err is the underlying error.
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Method, e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsTransport returns true if the error is a network or transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsMalformed returns true if the response body could not be parsed.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

// AsStatus returns the StatusError carried by err, if any.
func AsStatus(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Classify maps an error to its failure kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if _, ok := AsStatus(err); ok {
		return KindStatus
	}
	switch {
	case IsMalformed(err):
		return KindMalformed
	case errors.Is(err, errCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case IsTransport(err):
		return KindTransport
	default:
		return KindUnknown
	}
}

// Message returns the text shown to an operator for a failed call.
//
// Status errors surface the server detail verbatim; 4xx and 5xx are not
// distinguished beyond that.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := AsStatus(err); ok {
		if se.Detail != "" {
			return se.Detail
		}
		return se.Error()
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Err.Error()
	}
	return err.Error()
}

var errCanceled = errors.New("request canceled")

// detailFromBody extracts the FastAPI-style `detail` field. Validation
// errors carry a list there; it is returned as compact JSON.
func detailFromBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return trimmed
	}
	if len(envelope.Detail) == 0 || string(envelope.Detail) == "null" {
		return trimmed
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}
	return string(envelope.Detail)
}
