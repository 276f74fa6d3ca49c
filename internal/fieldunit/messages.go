package fieldunit

import "time"

// Logical bus topics published by discovery.
const (
	TopicDeviceDiscovered = "device_discovered"
	TopicDeviceRegistered = "device_registered"
)

// RegistrationRequest asks a field unit to declare its capabilities.
type RegistrationRequest struct {
	HubID     string `json:"hub_id"`
	Request   string `json:"request"`
	Timestamp int64  `json:"timestamp"`
}

func newRegistrationRequest(hubID string, now time.Time) RegistrationRequest {
	return RegistrationRequest{
		HubID:     hubID,
		Request:   "capabilities",
		Timestamp: now.Unix(),
	}
}

// DiscoveredEvent is published when an untrusted device is seen for the
// first time and needs an operator decision.
type DiscoveredEvent struct {
	RequiresTrustDecision bool   `json:"requires_trust_decision"`
	MACAddress            string `json:"mac_address"`
	Name                  string `json:"name"`
	RSSI                  int16  `json:"rssi"`
}

// telemetryEnvelope holds the identity fields a telemetry document may carry
// in either the compact or verbose form.
type telemetryEnvelope struct {
	DeviceID string          `json:"i"`
	Topic    string          `json:"topic"`
	Source   *envelopeSource `json:"source"`
	Data     map[string]any  `json:"d"`
	Payload  map[string]any  `json:"payload"`
}

type envelopeSource struct {
	ID string `json:"id"`
}

// telemetryDeviceID returns the device id a telemetry document names, or "".
func telemetryDeviceID(env telemetryEnvelope) string {
	switch {
	case env.DeviceID != "":
		return env.DeviceID
	case env.Source != nil && env.Source.ID != "":
		return env.Source.ID
	default:
		return env.Topic
	}
}

// telemetryFields flattens the numeric and boolean sensor readings of a
// telemetry document for time-series storage.
func telemetryFields(env telemetryEnvelope) map[string]any {
	src := env.Data
	if src == nil {
		src = env.Payload
	}
	fields := make(map[string]any, len(src))
	for k, v := range src {
		switch val := v.(type) {
		case float64, bool:
			fields[k] = val
		}
	}
	return fields
}
