package gateway

import (
	"fmt"
	"time"
)

// APIError represents a failed gateway call with a best-effort message.
type APIError struct {
	StatusCode int            `json:"-"`
	Message    string         `json:"message,omitempty"`
	Raw        map[string]any `json:"-"`
	RequestID  string         `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		if e.RequestID != "" {
			return fmt.Sprintf("gateway error: status=%d request_id=%s message=%s", e.StatusCode, e.RequestID, e.Message)
		}
		return fmt.Sprintf("gateway error: status=%d message=%s", e.StatusCode, e.Message)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("gateway error: status=%d request_id=%s", e.StatusCode, e.RequestID)
	}
	return fmt.Sprintf("gateway error: status=%d", e.StatusCode)
}

// RejectedError is a 2xx response whose body does not report success.
type RejectedError struct{ *APIError }

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("message rejected: %s", e.Message)
	}
	return "message rejected by gateway"
}

// AuthError indicates authentication/authorization failures (401/403).
type AuthError struct{ *APIError }

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.APIError.Error())
}

// RateLimitError indicates 429 responses and may include a Retry-After.
type RateLimitError struct {
	*APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: wait about %ds before retrying: %s", int(e.RetryAfter.Seconds()), e.APIError.Error())
	}
	return fmt.Sprintf("rate limited: %s", e.APIError.Error())
}

// BadRequestError indicates a 4xx request problem (e.g., 400 validation).
type BadRequestError struct{ *APIError }

func (e *BadRequestError) Error() string { return fmt.Sprintf("bad request: %s", e.APIError.Error()) }

// ServerError indicates 5xx errors from the gateway.
type ServerError struct{ *APIError }

func (e *ServerError) Error() string { return fmt.Sprintf("gateway failure: %s", e.APIError.Error()) }
