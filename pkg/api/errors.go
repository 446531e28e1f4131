package api

import "fmt"

// ErrorType represents the category of a parley error.
type ErrorType string

const (
	// ErrorTypeUnsupportedBackend: unknown backend kind at engine construction.
	ErrorTypeUnsupportedBackend ErrorType = "unsupported_backend"

	// ErrorTypeBackendInit: engine construction or connection failed. Fatal
	// to that attempt only; a later registry lookup retries from scratch.
	ErrorTypeBackendInit ErrorType = "backend_initialization"

	// ErrorTypeGeneration: backend failure during a generate call.
	ErrorTypeGeneration ErrorType = "generation_error"

	// ErrorTypeNoModel: no model resolvable for a brand-new conversation.
	ErrorTypeNoModel ErrorType = "no_model_available"

	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeServerError    ErrorType = "server_error"
)

// APIError is the structured error shared across packages. Callers branch
// on Type; the transport layer maps Type to an HTTP status.
type APIError struct {
	Type    ErrorType `json:"type"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError as the top-level JSON error body.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewUnsupportedBackendError creates an APIError for an unknown backend kind.
func NewUnsupportedBackendError(kind BackendKind) *APIError {
	return &APIError{
		Type:    ErrorTypeUnsupportedBackend,
		Message: fmt.Sprintf("unsupported backend kind %q", kind),
	}
}

// NewBackendInitError creates an APIError for a failed engine construction.
func NewBackendInitError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeBackendInit,
		Message: message,
	}
}

// NewGenerationError creates an APIError for a backend generation failure.
func NewGenerationError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeGeneration,
		Message: message,
	}
}

// NewNoModelAvailableError creates an APIError for an empty resolution chain.
func NewNoModelAvailableError() *APIError {
	return &APIError{
		Type:    ErrorTypeNoModel,
		Message: "no model available",
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found
// or do not belong to the requesting user.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewServerError creates an APIError for internal failures.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}
