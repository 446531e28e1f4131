package api

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "without param",
			err:  NewNotFoundError("conversation not found"),
			want: "not_found: conversation not found",
		},
		{
			name: "with param",
			err:  NewInvalidRequestError("message", "message must not be empty"),
			want: "invalid_request: message must not be empty (param: message)",
		},
		{
			name: "unsupported backend includes kind",
			err:  NewUnsupportedBackendError("quantum"),
			want: `unsupported_backend: unsupported backend kind "quantum"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConstructorTypes(t *testing.T) {
	tests := []struct {
		err  *APIError
		want ErrorType
	}{
		{NewUnsupportedBackendError("x"), ErrorTypeUnsupportedBackend},
		{NewBackendInitError("m"), ErrorTypeBackendInit},
		{NewGenerationError("m"), ErrorTypeGeneration},
		{NewNoModelAvailableError(), ErrorTypeNoModel},
		{NewNotFoundError("m"), ErrorTypeNotFound},
		{NewInvalidRequestError("p", "m"), ErrorTypeInvalidRequest},
		{NewServerError("m"), ErrorTypeServerError},
	}

	for _, tt := range tests {
		if tt.err.Type != tt.want {
			t.Errorf("type = %q, want %q", tt.err.Type, tt.want)
		}
	}
}

func TestAPIError_ErrorsAs(t *testing.T) {
	var wrapped error = NewGenerationError("backend failed")

	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Fatal("errors.As failed for *APIError")
	}
	if apiErr.Type != ErrorTypeGeneration {
		t.Errorf("type = %q", apiErr.Type)
	}
}

func TestErrorResponse_JSON(t *testing.T) {
	data, err := json.Marshal(ErrorResponse{Error: NewInvalidRequestError("message", "empty")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"error":{"type":"invalid_request","param":"message","message":"empty"}}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}

	// Param is omitted when empty.
	data, _ = json.Marshal(ErrorResponse{Error: NewNotFoundError("gone")})
	want = `{"error":{"type":"not_found","message":"gone"}}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}
