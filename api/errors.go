package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCancelled is reported by a subscription that was cancelled by its owner.
var ErrCancelled = errors.New("subscription cancelled")

// ConflictError is returned when a transaction spends an input that is
// unknown or already consumed, or would otherwise break a linear chain. It is
// permanent: the transaction must be rebuilt before it can be retried.
type ConflictError struct {
	TxID       string
	RevisionID uint64
	Reason     string

	remote string
}

func (e *ConflictError) Error() string {
	if e.remote != "" {
		return e.remote
	}
	if e.RevisionID != 0 {
		return fmt.Sprintf("conflict in transaction %s: revision %d %s", e.TxID, e.RevisionID, e.Reason)
	}
	return fmt.Sprintf("conflict in transaction %s: %s", e.TxID, e.Reason)
}

// OverflowError terminates a subscription whose observer did not drain its
// delivery queue in time. The client has to subscribe again with a fresh
// cursor.
type OverflowError struct {
	SubscriptionID string
	Cursor         uint64

	remote string
}

func (e *OverflowError) Error() string {
	if e.remote != "" {
		return e.remote
	}
	return fmt.Sprintf("subscription %s overflowed at sequence %d", e.SubscriptionID, e.Cursor)
}

// InvalidFilterError rejects a malformed query before it reaches the store.
type InvalidFilterError struct {
	Reason string

	remote string
}

func (e *InvalidFilterError) Error() string {
	if e.remote != "" {
		return e.remote
	}
	return "invalid filter: " + e.Reason
}

// NotConnectedError reports that the store or the transport is unavailable.
// Callers may retry with backoff.
type NotConnectedError struct {
	Addr string
	Err  error
}

func (e *NotConnectedError) Error() string {
	msg := "not connected"
	if e.Addr != "" {
		msg += " to " + e.Addr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *NotConnectedError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is, or wraps, a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsOverflow reports whether err is, or wraps, an OverflowError.
func IsOverflow(err error) bool {
	var target *OverflowError
	return errors.As(err, &target)
}

// IsInvalidFilter reports whether err is, or wraps, an InvalidFilterError.
func IsInvalidFilter(err error) bool {
	var target *InvalidFilterError
	return errors.As(err, &target)
}

// IsNotConnected reports whether err is, or wraps, a NotConnectedError.
func IsNotConnected(err error) bool {
	var target *NotConnectedError
	return errors.As(err, &target)
}
