package mqtt

import (
	"fmt"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const maxPayloadSize = 1 << 20 // 1MB

// Publish sends payload to a fully qualified MQTT topic and waits for
// the broker to acknowledge it.
//
// Field unit traffic should go through PublishEvent, which applies the
// graylogic/fieldunit prefix. Publish is the raw path the hub status
// and the command round-trip tests use.
//
// Parameters:
//   - topic: Full topic (e.g., "graylogic/fieldunit/command/esp32-kitchen-01")
//   - payload: Message body, typically JSON, at most 1MB
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker keeps the message for late subscribers
//
// Retained messages suit state such as the hub status. Telemetry, events
// and command requests are never retained.
//
// Returns:
//   - error: nil on success; ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected
//     or a wrapped ErrPublishFailed otherwise
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishEvent publishes one bus message under the field unit prefix at
// the configured QoS. Logical topics are event names such as
// "device_registered" or a device id for telemetry.
//
// Parameters:
//   - logical: Bus topic without the graylogic/fieldunit prefix; it must not
//     carry MQTT wildcards
//   - payload: JSON document produced by the field unit core or scheduler
//
// Returns:
//   - error: nil on success; ErrInvalidTopic for wildcard or empty topics,
//     otherwise whatever Publish returns
//
// Example:
//
//	err := client.PublishEvent("esp32-kitchen-01", telemetryJSON)
//	// -> graylogic/fieldunit/esp32-kitchen-01
func (c *Client) PublishEvent(logical string, payload []byte) error {
	if logical == "" || strings.ContainsAny(logical, "+#") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, logical)
	}
	return c.Publish(Topics{}.FieldUnit(logical), payload, c.qos(), false)
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS)
}

// await blocks on a paho token for defaultPublishTimeout and wraps any
// failure behind op.
func await(token pahomqtt.Token, op error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", op, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}
