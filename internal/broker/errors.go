package broker

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BrokerError is a non-retriable business error from the broker
// (insufficient buying power, non-fractionable asset, rejected order).
type BrokerError struct {
	Status  int
	Message string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error (HTTP %d): %s", e.Status, e.Message)
}

// RateLimitedError is returned on HTTP 429. RetryAfter is zero when the
// broker did not provide a hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// TransportError wraps network and timeout failures
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PreconditionError marks trades rejected by pre-flight checks (PDT gate,
// buying power, cooldown, position cap). Recorded and skipped, never
// retried within the same cycle.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Reason)
}

// IsRateLimited reports whether err is a rate-limit rejection
func IsRateLimited(err error) bool {
	var rle *RateLimitedError
	return errors.As(err, &rle)
}

// IsTransport reports whether err is a network/timeout failure
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsPrecondition reports whether err is a pre-flight rejection
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsNotFractionable reports whether the broker rejected an order because
// the asset cannot be traded fractionally
func IsNotFractionable(err error) bool {
	var be *BrokerError
	if !errors.As(err, &be) {
		return false
	}
	msg := strings.ToLower(be.Message)
	return strings.Contains(msg, "fractional") || strings.Contains(msg, "not fractionable")
}

// IsNotFound reports whether the broker returned a 404
func IsNotFound(err error) bool {
	var be *BrokerError
	return errors.As(err, &be) && be.Status == 404
}
