package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the OpenAI-compatible error object.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// ErrorResponse wraps ErrorBody the way OpenAI clients expect it.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// errorType picks the OpenAI error type for a status code.
func errorType(code int) string {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "authentication_error"
	case code == http.StatusTooManyRequests:
		return "rate_limit_error"
	case code == http.StatusServiceUnavailable:
		return "service_unavailable"
	case code == http.StatusGatewayTimeout:
		return "timeout_error"
	case code >= 500:
		return "api_error"
	default:
		return "invalid_request_error"
	}
}

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, code int, message string) {
	_ = RespondWithJSON(w, code, ErrorResponse{Error: ErrorBody{
		Message: message,
		Type:    errorType(code),
		Code:    code,
	}})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return err
	}
	return nil
}

// RespondWithRawJSON writes an already encoded JSON body.
func RespondWithRawJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
