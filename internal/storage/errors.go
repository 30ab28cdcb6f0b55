package storage

import (
	"errors"
	"fmt"
)

// ConnectionError reports that the storage backend was unreachable or the
// connection with it was lost. It is transient; the engine does not retry.
type ConnectionError struct {
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("storage backend unreachable: %v", e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// QueueDoesNotExistError reports a reference to an absent queue.
type QueueDoesNotExistError struct {
	Project string
	Queue   string
}

func (e *QueueDoesNotExistError) Error() string {
	return fmt.Sprintf("queue %s does not exist for project %s", e.Queue, e.Project)
}

// MessageDoesNotExistError reports a reference to an absent (or end-of-life)
// message.
type MessageDoesNotExistError struct {
	Project string
	Queue   string
	ID      string
}

func (e *MessageDoesNotExistError) Error() string {
	return fmt.Sprintf("message %s does not exist in queue %s for project %s", e.ID, e.Queue, e.Project)
}

// ClaimDoesNotExistError reports a reference to an absent or expired claim.
// Expiry is authoritative: an expired claim is indistinguishable from a
// deleted one.
type ClaimDoesNotExistError struct {
	Project string
	Queue   string
	ID      string
}

func (e *ClaimDoesNotExistError) Error() string {
	return fmt.Sprintf("claim %s does not exist in queue %s for project %s", e.ID, e.Queue, e.Project)
}

// QueueIsEmptyError reports a claim request against a queue with no
// unclaimed, unexpired messages at this instant.
type QueueIsEmptyError struct {
	Project string
	Queue   string
}

func (e *QueueIsEmptyError) Error() string {
	return fmt.Sprintf("queue %s in project %s is empty", e.Queue, e.Project)
}

// ClaimNotPermittedError reports an operation on a message that is not held
// by the claim the caller presented.
type ClaimNotPermittedError struct {
	MessageID string
	ClaimID   string
}

func (e *ClaimNotPermittedError) Error() string {
	return fmt.Sprintf("message %s is not claimed by %s", e.MessageID, e.ClaimID)
}

// MessageConflictError reports a bulk insert partially blocked by messages
// already enqueued under an identical client-supplied identity. SucceededIDs
// lists the ids that did land, in the same order as the inputs that
// succeeded, so the caller can reconcile.
type MessageConflictError struct {
	Project      string
	Queue        string
	SucceededIDs []string
}

func (e *MessageConflictError) Error() string {
	return fmt.Sprintf("message could not be enqueued due to a conflict with another message that is already in queue %s for project %s", e.Queue, e.Project)
}

// MalformedIDError reports a client-supplied message id that fails decoding.
type MalformedIDError struct {
	ID string
}

func (e *MalformedIDError) Error() string {
	return fmt.Sprintf("malformed message id %q", e.ID)
}

// MalformedMarkerError reports a client-supplied pagination marker that
// fails decoding.
type MalformedMarkerError struct {
	Marker string
}

func (e *MalformedMarkerError) Error() string {
	return fmt.Sprintf("malformed pagination marker %q", e.Marker)
}

// ValidationError reports a request violating a declared bound (batch size,
// ttl/grace/limit range).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsDoesNotExist reports whether err is any of the does-not-exist variants.
func IsDoesNotExist(err error) bool {
	var qe *QueueDoesNotExistError
	var me *MessageDoesNotExistError
	var ce *ClaimDoesNotExistError
	return errors.As(err, &qe) || errors.As(err, &me) || errors.As(err, &ce)
}
