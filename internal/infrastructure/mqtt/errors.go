package mqtt

import "errors"

// Sentinel errors returned by the broker client and the bus. Callers
// match them with errors.Is; the client wraps broker detail behind them.
var (
	// ErrNotConnected means the broker link is down. Bus publishes still
	// reach local listeners when this is returned.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned by Connect when the first dial fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps a rejected or oversized publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps a rejected command subscription.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic covers empty topics, logical topics carrying MQTT
	// wildcards and command topics without a device id.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrTimeout is joined to the operation error when the broker does not
	// acknowledge in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
