package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("job not found")
	ErrValidation         = errors.New("invalid job")
	ErrChannelUnavailable = errors.New("channel unavailable")
	ErrItemDispatch       = errors.New("item dispatch failed")
)

// ValidationError is returned before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid job: " + e.Reason
	}
	return fmt.Sprintf("invalid job: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type ChannelUnavailableError struct {
	DeviceID string
	Err      error
}

func (e *ChannelUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("channel unavailable for device %s", e.DeviceID)
	}
	return fmt.Sprintf("channel unavailable for device %s: %v", e.DeviceID, e.Err)
}

func (e *ChannelUnavailableError) Is(target error) bool { return target == ErrChannelUnavailable }

func (e *ChannelUnavailableError) Unwrap() error { return e.Err }

// ItemDispatchError is recorded on the JobItem; it never escapes the dispatcher.
type ItemDispatchError struct {
	Recipient string
	Err       error
}

func (e *ItemDispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s: %v", e.Recipient, e.Err)
}

func (e *ItemDispatchError) Is(target error) bool { return target == ErrItemDispatch }

func (e *ItemDispatchError) Unwrap() error { return e.Err }
