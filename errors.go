package easyfetch

import (
	"errors"
	"fmt"
	"time"

	"github.com/taodev/easyfetch/internal/resolver"
)

// ErrRequestTimeout matches every *TimeoutError with errors.Is.
var ErrRequestTimeout = errors.New("request timeout")

// ErrNoAddresses is the cause of a ResolutionError whose upstream answer held
// no A record.
var ErrNoAddresses = resolver.ErrNoAddresses

// ResolutionError reports a failed lookup of the request host. It is never
// cached.
type ResolutionError = resolver.ResolutionError

// TimeoutError is returned when the request timeout elapsed before the
// response headers arrived.
type TimeoutError struct {
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timeout after %s: %v", e.Duration, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrRequestTimeout
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// TransportError wraps any other failure of the HTTP exchange.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func classify(err error, d *deadline) error {
	if d != nil && d.fired.Load() {
		return &TimeoutError{Duration: d.timeout, Err: err}
	}
	var resErr *ResolutionError
	if errors.As(err, &resErr) {
		return resErr
	}
	return &TransportError{Err: err}
}
