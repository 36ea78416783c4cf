package portal

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientFetchError reports a request that failed after exhausting its
// retry budget on retryable conditions (network errors, 5xx, 429). It carries
// the attempt count and the last HTTP status observed (0 for network errors).
type TransientFetchError struct {
	Attempts   int
	LastStatus int
	Err        error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch failure after %d attempts (last status %d): %v", e.Attempts, e.LastStatus, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// PermanentFetchError reports a request that must not be retried: a 4xx other
// than 429 (malformed request) or a pagination safety cap overflow.
type PermanentFetchError struct {
	Status int
	Err    error
}

func (e *PermanentFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("permanent fetch failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("permanent fetch failure: %v", e.Err)
}

func (e *PermanentFetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable: an explicit
// TransientFetchError, a network timeout, or a connection-level failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientFetchError
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

	// String heuristics for wrapped errors surfaced by net/http.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsPermanent reports whether err carries a PermanentFetchError.
func IsPermanent(err error) bool {
	var pe *PermanentFetchError
	return errors.As(err, &pe)
}

// isTransientStatus reports whether an HTTP status indicates a transient
// server-side condition that is safe to retry.
func isTransientStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
