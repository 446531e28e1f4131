package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rhuss/parley/pkg/api"
)

// HTTPStatusFromError maps an APIError type to the corresponding HTTP
// status code. Backend failures surface as gateway errors so callers can
// distinguish them from faults in this server.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeNoModel:
		return http.StatusServiceUnavailable
	case api.ErrorTypeBackendInit, api.ErrorTypeGeneration:
		return http.StatusBadGateway
	case api.ErrorTypeUnsupportedBackend, api.ErrorTypeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an error response, converting non-API errors to a
// generic server error and deriving the HTTP status from the error type.
func WriteAPIError(w http.ResponseWriter, err error) {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		apiErr = api.NewServerError(err.Error())
	}
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}
