package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/rotisserie/eris"
)

// TransientError marks a fetch failure that may succeed when repeated, such
// as a 429, a 5xx or a network timeout.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// StatusError converts a non-2xx HTTP status into an error. Retryable
// statuses come back as *TransientError.
func StatusError(url string, status int) error {
	err := eris.Errorf("resilience: %s returned status %d", url, status)
	if IsTransientStatus(status) {
		return &TransientError{Err: err, StatusCode: status}
	}
	return err
}

// IsTransient reports whether err is worth retrying: an explicit
// TransientError, a network timeout or a reset/refused connection.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// IsTransientStatus reports whether an HTTP status is safe to retry.
func IsTransientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
