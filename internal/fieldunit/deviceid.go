package fieldunit

import "regexp"

// deviceIDPattern admits ids usable as one MQTT topic level and as a
// directory name: no separators, no wildcards, no leading dot.
var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// reservedDeviceIDs are logical bus topics owned by the hub. Telemetry is
// published under the device id, so no unit may claim one of these.
var reservedDeviceIDs = map[string]struct{}{
	TopicDeviceDiscovered: {},
	TopicDeviceRegistered: {},
	"scheduler_event":     {},
	"command":             {},
}

// ValidDeviceID reports whether id may identify a field unit.
func ValidDeviceID(id string) bool {
	if !deviceIDPattern.MatchString(id) {
		return false
	}
	_, reserved := reservedDeviceIDs[id]
	return !reserved
}
