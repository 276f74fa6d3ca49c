package trust

import "errors"

// Domain errors for the trust store.
var (
	// ErrDeviceNotFound is returned when no record exists for an address.
	ErrDeviceNotFound = errors.New("trust: device not found")

	// ErrInvalidAddress is returned for an empty or malformed MAC address.
	ErrInvalidAddress = errors.New("trust: invalid device address")
)
