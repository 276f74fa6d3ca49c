package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefixFieldUnit roots everything the field unit hub publishes or
// listens to.
const TopicPrefixFieldUnit = "graylogic/fieldunit"

// Topics builds MQTT topic names from logical bus topics.
//
//	topics := mqtt.Topics{}
//	topics.FieldUnit("device_registered")
//	// Returns: "graylogic/fieldunit/device_registered"
type Topics struct{}

// FieldUnit maps a logical bus topic (an event name or a device id) onto
// the MQTT hierarchy.
//
// Example: graylogic/fieldunit/esp32-kitchen-01
func (Topics) FieldUnit(logical string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixFieldUnit, logical)
}

// Command returns the topic operators publish command requests on.
//
// Example: graylogic/fieldunit/command/esp32-kitchen-01
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefixFieldUnit, deviceID)
}

// AllCommands matches every device's command topic.
//
// Pattern: graylogic/fieldunit/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefixFieldUnit)
}

// HubStatus carries the hub's retained online/offline record and its
// will. Device ids cannot contain "/", so it never collides with a
// telemetry topic.
//
// Example: graylogic/fieldunit/hub/status
func (Topics) HubStatus() string {
	return TopicPrefixFieldUnit + "/hub/status"
}

// Logical reverses FieldUnit. It reports false for topics outside the
// field unit prefix.
func (Topics) Logical(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixFieldUnit+"/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// CommandDevice extracts the device id from a command topic.
func (t Topics) CommandDevice(topic string) (string, bool) {
	rest, ok := t.Logical(topic)
	if !ok {
		return "", false
	}
	id, ok := strings.CutPrefix(rest, "command/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
