package mercadolibre

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimitExceeded is returned before any network call when the local
	// per-minute call budget is spent.
	ErrRateLimitExceeded = errors.New("mercadolibre: rate limit exceeded")

	ErrUnauthorized  = errors.New("mercadolibre: unauthorized")
	ErrForbidden     = errors.New("mercadolibre: forbidden")
	ErrNotFound      = errors.New("mercadolibre: not found")
	ErrRateLimited   = errors.New("mercadolibre: rate limited")
	ErrServer        = errors.New("mercadolibre: server error")
	ErrHTTP          = errors.New("mercadolibre: http error")
	ErrTimeout       = errors.New("mercadolibre: request timeout")
	ErrRequestFailed = errors.New("mercadolibre: request failed")
)

// invalidBody replaces error bodies that are not valid JSON.
var invalidBody = map[string]any{"error": "Invalid JSON"}

// APIError is a non-2xx response. It unwraps to one of the Err* kinds above.
type APIError struct {
	Kind       error
	StatusCode int
	Endpoint   string
	Body       any
}

func (e *APIError) Error() string {
	switch e.Kind {
	case ErrNotFound:
		return fmt.Sprintf("%v: %s", e.Kind, e.Endpoint)
	case ErrRateLimited:
		return e.Kind.Error()
	case ErrUnauthorized, ErrForbidden:
		return fmt.Sprintf("%v: %v", e.Kind, e.Body)
	default:
		return fmt.Sprintf("%v: HTTP %d: %v", e.Kind, e.StatusCode, e.Body)
	}
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrServer
	default:
		return ErrHTTP
	}
}

// IsTransient reports whether a failed call may succeed when repeated.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServer) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRequestFailed)
}
