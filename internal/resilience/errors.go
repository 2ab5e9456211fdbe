package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// TransientError wraps an error that is safe to retry (429, 5xx, timeouts).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// StatusError builds the error for a non-2xx response from service. Statuses
// that IsTransientHTTPStatus accepts come back as a *TransientError.
func StatusError(service string, code int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 512 {
		body = body[:512]
	}
	err := eris.Errorf("%s: status %d: %s", service, code, body)
	if IsTransientHTTPStatus(code) {
		return NewTransientError(err, code)
	}
	return err
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransient reports whether err (or anything in its chain) is a
// TransientError or looks like a transient network failure.
func IsTransient(err error) bool {
	if err == nil {
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

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is worth retrying.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classify returns a short label for an error, used as a metrics label.
func Classify(err error) string {
	if err == nil {
		return "ok"
	}
	if eris.Is(err, ErrCircuitOpen) {
		return "circuit_open"
	}
	var te *TransientError
	if errors.As(err, &te) {
		if te.StatusCode == 429 {
			return "rate_limited"
		}
		if te.StatusCode > 0 {
			return fmt.Sprintf("http_%d", te.StatusCode)
		}
		return "transient"
	}
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
