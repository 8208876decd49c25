package provider

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownEndpoint = errors.New("provider: unknown endpoint")
	ErrMissingID       = errors.New("provider: endpoint requires an id")
	ErrInvalidPayload  = errors.New("provider: response payload does not match schema")
	ErrThrottled       = errors.New("provider: outbound slot not acquired")
)

// StatusError é uma resposta não-2xx do provedor.
type StatusError struct {
	Endpoint   string
	StatusCode int
	// RetryAfter vem do header Retry-After em 429/503, quando presente.
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider: %s returned status %d", e.Endpoint, e.StatusCode)
}

// RateLimited indica que o provedor recusou por excesso de chamadas.
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == 429
}
