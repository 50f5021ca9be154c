package services

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized = errors.New("llm unauthorized")
	ErrRateLimited  = errors.New("llm rate limited")
	ErrUnavailable  = errors.New("llm unavailable")
	ErrEmptyReply   = errors.New("llm returned no choices")
)

// APIError is a non-2xx reply from the model service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("llm request failed: status code %d", e.StatusCode)
	}
	return fmt.Sprintf("llm request failed: status code %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto one of the sentinel errors.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrUnavailable
	default:
		return nil
	}
}
