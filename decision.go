package kvgate

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of Limiter.Admit. A denial is a normal outcome,
// not an error.
type Decision struct {
	Allowed   bool
	Count     int64 // hits recorded in the current window, this one included
	Limit     int64
	Remaining int64
	// ResetAt is when the current window ends. It is only filled in for
	// denials and may be zero if the store could not report it.
	ResetAt time.Time
}

func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return "denied"
}

// RetryAfter returns how long after now the window resets, or zero.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || d.ResetAt.IsZero() {
		return 0
	}
	if delay := d.ResetAt.Sub(now); delay > 0 {
		return delay
	}
	return 0
}

// Wait blocks until the window of a denied decision resets or ctx is done.
func (d Decision) Wait(ctx context.Context) error {
	delay := time.Until(d.ResetAt)
	if d.Allowed || d.ResetAt.IsZero() || delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FailurePolicy decides what a caller does with a request when the store is
// unavailable. The limiter itself always reports the failure.
type FailurePolicy int

const (
	// FailClosed rejects requests while the store is unavailable.
	FailClosed FailurePolicy = iota
	// FailOpen lets requests through while the store is unavailable.
	FailOpen
)

func (p FailurePolicy) String() string {
	switch p {
	case FailClosed:
		return "FailClosed"
	case FailOpen:
		return "FailOpen"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// RevokeResult is the outcome of SessionCache.Revoke.
type RevokeResult int

const (
	// Removed means a session existed and was deleted.
	Removed RevokeResult = iota
	// NotFound means there was no session to delete.
	NotFound
)

func (r RevokeResult) String() string {
	switch r {
	case Removed:
		return "Removed"
	case NotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}
