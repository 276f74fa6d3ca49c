package trust

import "time"

// Device is the persisted record of a radio peripheral: when it was seen,
// what it reported about itself, and whether an operator trusts it.
type Device struct {
	MAC             string    `json:"mac_address"`
	Name            string    `json:"name"`
	DeviceType      string    `json:"device_type,omitempty"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	Trusted         bool      `json:"trusted"`
	RSSI            *int16    `json:"rssi,omitempty"`
}

// Outcome of one registration handshake.
type Outcome string

const (
	OutcomeRegistered Outcome = "registered"
	OutcomeFailed     Outcome = "failed"
)

// RegistrationAttempt records the result of a handshake with a trusted device.
type RegistrationAttempt struct {
	MAC         string    `json:"mac_address"`
	AttemptedAt time.Time `json:"attempted_at"`
	DeviceID    string    `json:"device_id,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
}
