package scheduler

import "errors"

// Domain errors for command scheduling.
var (
	// ErrInvalidDevice is returned for an empty device id.
	ErrInvalidDevice = errors.New("scheduler: invalid device id")

	// ErrInvalidAction is returned for an empty command action.
	ErrInvalidAction = errors.New("scheduler: invalid action")

	// ErrInvalidPayload is returned when a payload is not valid JSON.
	ErrInvalidPayload = errors.New("scheduler: payload is not valid JSON")

	// ErrInvalidPriority is returned for an unknown priority.
	ErrInvalidPriority = errors.New("scheduler: invalid priority")

	// ErrDispatchFailed wraps a transport error while sending a command.
	ErrDispatchFailed = errors.New("scheduler: dispatch failed")

	// ErrSchedulerStopped is returned after Stop.
	ErrSchedulerStopped = errors.New("scheduler: stopped")
)
