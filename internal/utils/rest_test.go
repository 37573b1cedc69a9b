package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		message  string
		wantType string
	}{
		{
			name:     "bad request",
			code:     http.StatusBadRequest,
			message:  "Invalid input",
			wantType: "invalid_request_error",
		},
		{
			name:     "unauthorized",
			code:     http.StatusUnauthorized,
			message:  "Authentication required",
			wantType: "authentication_error",
		},
		{
			name:     "quota exhausted",
			code:     http.StatusTooManyRequests,
			message:  "daily quota exhausted",
			wantType: "rate_limit_error",
		},
		{
			name:     "no credential",
			code:     http.StatusServiceUnavailable,
			message:  "no credential available",
			wantType: "service_unavailable",
		},
		{
			name:     "upstream timeout",
			code:     http.StatusGatewayTimeout,
			message:  "upstream timed out",
			wantType: "timeout_error",
		},
		{
			name:     "internal server error",
			code:     http.StatusInternalServerError,
			message:  "Something went wrong",
			wantType: "api_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			RespondWithError(w, tt.code, tt.message)

			if w.Code != tt.code {
				t.Errorf("RespondWithError() status = %d, want %d", w.Code, tt.code)
			}

			contentType := w.Header().Get("Content-Type")
			if contentType != "application/json" {
				t.Errorf("RespondWithError() Content-Type = %s, want application/json", contentType)
			}

			var response ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}

			if response.Error.Message != tt.message {
				t.Errorf("RespondWithError() message = %s, want %s", response.Error.Message, tt.message)
			}
			if response.Error.Type != tt.wantType {
				t.Errorf("RespondWithError() type = %s, want %s", response.Error.Type, tt.wantType)
			}
			if response.Error.Code != tt.code {
				t.Errorf("RespondWithError() code = %d, want %d", response.Error.Code, tt.code)
			}
		})
	}
}

func TestRespondWithJSON(t *testing.T) {
	t.Run("map payload", func(t *testing.T) {
		w := httptest.NewRecorder()

		payload := map[string]any{
			"success": true,
			"count":   42,
		}

		if err := RespondWithJSON(w, http.StatusCreated, payload); err != nil {
			t.Errorf("RespondWithJSON() error = %v, want nil", err)
		}

		if w.Code != http.StatusCreated {
			t.Errorf("RespondWithJSON() status = %d, want %d", w.Code, http.StatusCreated)
		}

		var response map[string]any
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if response["success"] != true {
			t.Errorf("RespondWithJSON() success = %v, want true", response["success"])
		}
		if int(response["count"].(float64)) != 42 {
			t.Errorf("RespondWithJSON() count = %v, want 42", response["count"])
		}
	})

	t.Run("raw payload", func(t *testing.T) {
		w := httptest.NewRecorder()

		RespondWithRawJSON(w, http.StatusOK, []byte(`{"object":"list"}`))

		if w.Body.String() != `{"object":"list"}` {
			t.Errorf("RespondWithRawJSON() body = %s", w.Body.String())
		}
		if w.Header().Get("Content-Type") != "application/json" {
			t.Errorf("RespondWithRawJSON() missing content type")
		}
	})
}
