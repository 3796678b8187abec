// Package retry classifies HTTP/transport failures into an error class and
// computes the next backoff delay for that class, generalizing the
// resilient HTTP client's single retryable-status table
// (internal/httpclient/client.go's isRetryableStatus and exponential-backoff
// loop) into the five-class table the segment scheduler needs.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Class is the error taxonomy a fetch failure is sorted into before a
// backoff delay is computed.
type Class string

const (
	ClassRateLimited     Class = "rate_limited"
	ClassServerTransient Class = "server_transient"
	ClassTransport       Class = "transport"
	ClassClientFatal     Class = "client_fatal"
	ClassCancelled       Class = "cancelled"
)

// pollInterval bounds how long a sleep can overrun a cancellation.
const pollInterval = 100 * time.Millisecond

// ClassifyStatus sorts an HTTP status code into a Class.
func ClassifyStatus(statusCode int) Class {
	switch statusCode {
	case 429, 503:
		return ClassRateLimited
	case 500, 502, 504:
		return ClassServerTransient
	case 408:
		return ClassTransport
	}
	if statusCode >= 400 && statusCode < 500 {
		return ClassClientFatal
	}
	return ClassTransport
}

// ClassifyError sorts a transport-level error (no response received) into a
// Class. Context cancellation and deadline errors classify as Cancelled so
// callers propagate them immediately rather than retrying.
func ClassifyError(err error) Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCancelled
	}
	return ClassTransport
}

// Retryable reports whether a Class may be retried at all. ClientFatal and
// Cancelled both fail immediately.
func (c Class) Retryable() bool {
	return c != ClassClientFatal && c != ClassCancelled
}

// Delay computes the backoff for attempt (0-indexed) in Class c, including
// uniform jitter. attempt 0 is the delay before the first retry.
func Delay(c Class, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	switch c {
	case ClassRateLimited:
		base := 2000 * time.Millisecond * time.Duration(pow2(attempt))
		return base + jitter(1000*time.Millisecond)
	case ClassServerTransient:
		base := 1500 * time.Millisecond * time.Duration(pow2(attempt))
		return base + jitter(500*time.Millisecond)
	case ClassTransport:
		base := 1000*time.Millisecond + time.Duration(attempt)*1000*time.Millisecond
		return base + jitter(500*time.Millisecond)
	default:
		return 0
	}
}

func pow2(attempt int) int64 {
	if attempt > 20 {
		attempt = 20 // guard against overflow on pathological attempt counts
	}
	return int64(1) << uint(attempt)
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// InterruptibleSleep sleeps for d, waking every pollInterval to check ctx,
// so no caller waits more than pollInterval past a cancellation.
func InterruptibleSleep(ctx context.Context, d time.Duration) error {
	return SleepPolled(ctx, d, pollInterval)
}

// SleepPolled sleeps for d, waking every poll interval to check ctx. Used
// directly by callers needing a probe cadence other than the default
// 100ms (the segment scheduler's 50ms inter-batch cancellation probe).
func SleepPolled(ctx context.Context, d, poll time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ctx.Err()
		}
		wait := poll
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
