package logstore

import (
	"errors"
	"fmt"
)

// ErrLogNotFound is returned by operations on a log that is not defined.
//
// Append and StartReading report undefined logs using [AppendLogNotFound] and
// [StartLogNotFound] instead.
var ErrLogNotFound = errors.New("log not found")

// AppendReason describes why an append failed.
//
// Each reason is also an error value, such that errors.Is(err, reason) reports
// whether err is an [*AppendError] with that reason.
type AppendReason int

const (
	// AppendOther is any failure not described by another reason.
	AppendOther AppendReason = iota

	// AppendLogNotFound means the log is not defined.
	AppendLogNotFound

	// AppendPayloadTooLarge means the payload exceeds the store's limit.
	AppendPayloadTooLarge

	// AppendUnavailable means the store could not be reached or failed.
	AppendUnavailable

	// AppendTimeout means the store did not respond in time.
	AppendTimeout

	// AppendAccessDenied means the caller may not append to the log.
	AppendAccessDenied
)

func (r AppendReason) Error() string {
	switch r {
	case AppendLogNotFound:
		return "log not found"
	case AppendPayloadTooLarge:
		return "payload too large"
	case AppendUnavailable:
		return "store unavailable"
	case AppendTimeout:
		return "timed out"
	case AppendAccessDenied:
		return "access denied"
	default:
		return "append failed"
	}
}

// IsTransient returns true if an append that failed for this reason may
// succeed when retried.
func (r AppendReason) IsTransient() bool {
	return r == AppendUnavailable || r == AppendTimeout
}

// AppendError is returned when a payload could not be appended to a log.
type AppendError struct {
	LogID  LogID
	Reason AppendReason
	Cause  error
}

// NewAppendError returns a new [*AppendError].
func NewAppendError(id LogID, r AppendReason, cause error) *AppendError {
	return &AppendError{id, r, cause}
}

func (e *AppendError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("unable to append to log %s: %s", e.LogID, e.Reason)
	}
	return fmt.Sprintf("unable to append to log %s: %s: %s", e.LogID, e.Reason, e.Cause)
}

// Is returns true if target is the reason for the failure.
func (e *AppendError) Is(target error) bool {
	r, ok := target.(AppendReason)
	return ok && r == e.Reason
}

func (e *AppendError) Unwrap() error {
	return e.Cause
}

// IsTransientAppendError returns true if err is an [*AppendError] that may
// succeed when retried.
func IsTransientAppendError(err error) bool {
	var e *AppendError
	return errors.As(err, &e) && e.Reason.IsTransient()
}

// StartReason describes why a reader could not start reading from a log.
//
// Each reason is also an error value, such that errors.Is(err, reason) reports
// whether err is a [*StartError] with that reason.
type StartReason int

const (
	// StartOther is any failure not described by another reason.
	StartOther StartReason = iota

	// StartLogNotFound means the log is not defined.
	StartLogNotFound

	// StartInvalidRange means the requested range is empty or malformed.
	StartInvalidRange

	// StartAlreadyStarted means the reader is already reading from the log.
	StartAlreadyStarted

	// StartTooManyLogs means the reader is already reading from the maximum
	// number of logs.
	StartTooManyLogs

	// StartUnavailable means the store could not be reached or failed.
	StartUnavailable
)

func (r StartReason) Error() string {
	switch r {
	case StartLogNotFound:
		return "log not found"
	case StartInvalidRange:
		return "invalid range"
	case StartAlreadyStarted:
		return "already reading from log"
	case StartTooManyLogs:
		return "too many logs"
	case StartUnavailable:
		return "store unavailable"
	default:
		return "start failed"
	}
}

// StartError is returned when a reader could not start reading from a log.
type StartError struct {
	Range  ReadRange
	Reason StartReason
	Cause  error
}

// NewStartError returns a new [*StartError].
func NewStartError(r ReadRange, reason StartReason, cause error) *StartError {
	return &StartError{r, reason, cause}
}

func (e *StartError) Error() string {
	msg := fmt.Sprintf(
		"unable to start reading log %s from %s until %s: %s",
		e.Range.LogID,
		e.Range.Start,
		e.Range.Until,
		e.Reason,
	)

	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

// Is returns true if target is the reason for the failure.
func (e *StartError) Is(target error) bool {
	r, ok := target.(StartReason)
	return ok && r == e.Reason
}

func (e *StartError) Unwrap() error {
	return e.Cause
}
