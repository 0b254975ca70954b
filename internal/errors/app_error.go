// Package errors defines the gateway's error taxonomy and the JSON error envelope
// returned to OpenAI-compatible clients.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an AppError.
type Kind int

const (
	// KindTranslation covers internal failures while converting payloads.
	KindTranslation Kind = iota
	// KindConfiguration means no usable credential source or config could be established.
	KindConfiguration
	// KindClientInput means the inbound request body is malformed.
	KindClientInput
	// KindAuthentication means the backend rejected the bearer token.
	KindAuthentication
	// KindUpstream covers transport failures, timeouts and non-2xx backend replies.
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindClientInput:
		return "client_input"
	case KindAuthentication:
		return "authentication"
	case KindUpstream:
		return "upstream"
	default:
		return "translation"
	}
}

const (
	// TypeInvalidRequest is the envelope type for client input errors.
	TypeInvalidRequest = "invalid_request_error"
	// TypeProxy is the envelope type for every other failure.
	TypeProxy = "proxy_error"
)

// AppError represents a structured application error.
type AppError struct {
	// Kind is the error class.
	Kind Kind `json:"-"`
	// UpstreamStatus is the backend HTTP status, 0 when no response was received.
	UpstreamStatus int `json:"-"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status reported to the caller.
// Only client input errors surface as 400; everything else is folded into 500.
func (e *AppError) Status() int {
	if e.Kind == KindClientInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the JSON envelope written for failed requests.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the envelope fields.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	// Code echoes the upstream HTTP status when one was observed.
	Code int `json:"code,omitempty"`
}

// Envelope builds the client-facing error body.
func (e *AppError) Envelope() ErrorResponse {
	detail := ErrorDetail{Message: e.Error(), Type: TypeProxy, Code: e.UpstreamStatus}
	if e.Kind == KindClientInput {
		detail.Type = TypeInvalidRequest
		detail.Code = 0
	}
	return ErrorResponse{Error: detail}
}

// ToJSON returns the JSON byte representation of the error envelope.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(e.Envelope())
	return b
}

// New creates a new AppError.
func New(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// NewClientInput reports a malformed inbound request.
func NewClientInput(message string) *AppError {
	return &AppError{Kind: KindClientInput, Message: message}
}

// NewUpstream reports a backend failure. status is 0 for transport errors.
func NewUpstream(status int, message string, err error) *AppError {
	kind := KindUpstream
	if status == http.StatusUnauthorized {
		kind = KindAuthentication
	}
	return &AppError{Kind: kind, UpstreamStatus: status, Message: message, Err: err}
}

// As extracts an *AppError from err. Errors of any other type are wrapped as
// translation errors so callers always have an envelope to write.
func As(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return New(KindTranslation, "proxy error", err)
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Kind == kind
}
