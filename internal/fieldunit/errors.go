package fieldunit

import (
	"errors"
	"fmt"
)

// Domain errors for discovery and registration.
var (
	// ErrDiscoveryDisabled is returned when no radio adapter was acquired.
	ErrDiscoveryDisabled = errors.New("fieldunit: discovery disabled")

	// ErrDeviceNotFound is returned for an address or device id the
	// manager has never seen.
	ErrDeviceNotFound = errors.New("fieldunit: device not found")

	// ErrDeviceNotSeen is returned when a trust decision is recorded for an
	// address with no radio handle yet; registration happens on the next scan.
	ErrDeviceNotSeen = errors.New("fieldunit: device not seen since start")

	// ErrNotTrusted is returned when registration is attempted for an
	// address without a trusted record.
	ErrNotTrusted = errors.New("fieldunit: device not trusted")

	// ErrHandshakeInProgress is returned when a registration is already running.
	ErrHandshakeInProgress = errors.New("fieldunit: handshake in progress")

	// ErrNotRegistered is returned when commanding a device that has not
	// completed registration.
	ErrNotRegistered = errors.New("fieldunit: device not registered")

	// ErrLinkDown is returned when a registered device is reconnecting.
	ErrLinkDown = errors.New("fieldunit: link down")

	// ErrInvalidDeviceID is returned when a unit reports an id that cannot
	// be used as a bus topic or directory name.
	ErrInvalidDeviceID = errors.New("fieldunit: invalid device id")

	// ErrDuplicateDeviceID is returned when a unit registers under an id
	// already held by another address.
	ErrDuplicateDeviceID = errors.New("fieldunit: device id already registered")

	// ErrReassemblyFailed marks a complete notification buffer that could
	// not be interpreted.
	ErrReassemblyFailed = errors.New("fieldunit: reassembly failed")
)

// Stage names the handshake step that failed.
type Stage string

// Handshake failure stages.
const (
	StageConnect               Stage = "connect_failed"
	StageServiceDiscovery      Stage = "service_discovery_failed"
	StageCharacteristicMissing Stage = "characteristic_missing"
	StageSubscribe             Stage = "subscribe_failed"
	StageWrite                 Stage = "write_failed"
	StageRegistrationTimeout   Stage = "registration_timeout"
	StageRejected              Stage = "registration_rejected"
)

// HandshakeError reports an abandoned registration attempt. There is no
// automatic retry; the next scan or trust decision starts a new attempt.
type HandshakeError struct {
	Stage   Stage
	Address string
	Err     error
}

func (e *HandshakeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fieldunit: handshake with %s: %s", e.Address, e.Stage)
	}
	return fmt.Sprintf("fieldunit: handshake with %s: %s: %v", e.Address, e.Stage, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// IsHandshakeStage reports whether err is a HandshakeError at stage.
func IsHandshakeStage(err error, stage Stage) bool {
	var hsErr *HandshakeError
	return errors.As(err, &hsErr) && hsErr.Stage == stage
}
