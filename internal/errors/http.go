// Package errors provides the HTTP error envelope used by the local server.
//
// Errors are carried as gofulmen error envelopes. On the wire the correlation
// ID is reported as request_id and envelope context is folded into details.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// Error codes carried in the envelope.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeUpstream           = "UPSTREAM_ERROR"
)

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// HTTPErrorResponse wraps HTTPError as {"error": {...}}.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// StatusError pairs an error envelope with its HTTP status.
type StatusError struct {
	Status   int
	Envelope *gferrors.ErrorEnvelope
	Err      error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Envelope.Message + ": " + e.Err.Error()
	}
	return e.Envelope.Message
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Code returns the envelope code.
func (e *StatusError) Code() string {
	return e.Envelope.Code
}

// WithDetails merges details into the envelope. Scalars and string lists are
// stored as envelope context; anything the context rejects (nested maps) is
// kept as envelope details.
func (e *StatusError) WithDetails(details map[string]any) *StatusError {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Envelope.Context)+len(details))
	maps.Copy(merged, e.Envelope.Context)
	maps.Copy(merged, details)

	if _, err := e.Envelope.WithContext(merged); err != nil {
		extra := make(map[string]any, len(e.Envelope.Details))
		maps.Copy(extra, e.Envelope.Details)
		for k, v := range merged {
			if _, ok := e.Envelope.Context[k]; !ok {
				extra[k] = v
			}
		}
		e.Envelope.WithDetails(extra)
	}
	return e
}

// NewStatusError creates a StatusError.
func NewStatusError(status int, code, message string, err error) *StatusError {
	return &StatusError{
		Status:   status,
		Envelope: gferrors.NewErrorEnvelope(code, message).WithOriginal(err),
		Err:      err,
	}
}

// NewBadRequest creates a 400 error.
func NewBadRequest(message string, err error) *StatusError {
	return NewStatusError(http.StatusBadRequest, CodeBadRequest, message, err)
}

// NewNotFound creates a 404 error.
func NewNotFound(message string) *StatusError {
	return NewStatusError(http.StatusNotFound, CodeNotFound, message, nil)
}

// NewConflict creates a 409 error.
func NewConflict(message string, err error) *StatusError {
	return NewStatusError(http.StatusConflict, CodeConflict, message, err)
}

// NewServiceUnavailable creates a 503 error.
func NewServiceUnavailable(message string, details map[string]any) *StatusError {
	return NewStatusError(http.StatusServiceUnavailable, CodeServiceUnavailable, message, nil).WithDetails(details)
}

type requestIDKey struct{}

// WithRequestID stores id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request ID stored on ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Envelope converts err into the envelope written for r and its status.
// *StatusError values keep their status and code; anything else is a 500
// INTERNAL_ERROR. The request ID becomes the correlation ID.
func Envelope(r *http.Request, err error) (*gferrors.ErrorEnvelope, int) {
	var env *gferrors.ErrorEnvelope
	status := http.StatusInternalServerError

	var se *StatusError
	switch {
	case errors.As(err, &se):
		status = se.Status
		copied := *se.Envelope
		copied.Message = se.Error()
		env = &copied
	case err != nil:
		env = gferrors.NewErrorEnvelope(CodeInternal, err.Error()).WithOriginal(err)
	default:
		env = gferrors.NewErrorEnvelope(CodeInternal, "internal server error")
	}
	if r != nil {
		if id := RequestIDFrom(r.Context()); id != "" {
			env.WithCorrelationID(id)
		}
	}
	return env, status
}

// WriteEnvelope writes env with the given status.
func WriteEnvelope(w http.ResponseWriter, status int, env *gferrors.ErrorEnvelope) {
	body := HTTPError{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
		Timestamp: env.Timestamp,
	}
	if len(env.Details)+len(env.Context) > 0 {
		body.Details = make(map[string]any, len(env.Details)+len(env.Context))
		maps.Copy(body.Details, env.Details)
		maps.Copy(body.Details, env.Context)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}

// RespondWithError writes err as an envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	env, status := Envelope(r, err)
	WriteEnvelope(w, status, env)
}

// NotFoundHandler writes a NOT_FOUND envelope.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, r, NewNotFound("route not found: "+r.URL.Path))
}

// MethodNotAllowedHandler writes a METHOD_NOT_ALLOWED envelope.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, r, NewStatusError(http.StatusMethodNotAllowed, CodeMethodNotAllowed,
		"method "+r.Method+" not allowed on "+r.URL.Path, nil))
}
