package fieldunit

import "encoding/json"

// Sensor is a declared measurement channel.
type Sensor struct {
	Name string   `json:"name"`
	Unit string   `json:"unit"`
	Min  *float64 `json:"min_value,omitempty"`
	Max  *float64 `json:"max_value,omitempty"`
}

// Actuator is a declared output the hub can command.
type Actuator struct {
	Name string `json:"name"`
	Kind string `json:"actuator_type"`
}

// Capabilities is what a field unit declares about itself during
// registration. It is created once per registration and never mutated;
// accessors hand out copies.
type Capabilities struct {
	DeviceID        string     `json:"device_id"`
	DeviceType      string     `json:"device_type"`
	FirmwareVersion string     `json:"firmware_version"`
	Sensors         []Sensor   `json:"sensors"`
	Actuators       []Actuator `json:"actuators"`
	Commands        []string   `json:"commands"`
}

// Clone returns a deep copy.
func (c Capabilities) Clone() Capabilities {
	out := c
	out.Sensors = make([]Sensor, len(c.Sensors))
	for i, s := range c.Sensors {
		out.Sensors[i] = s
		if s.Min != nil {
			v := *s.Min
			out.Sensors[i].Min = &v
		}
		if s.Max != nil {
			v := *s.Max
			out.Sensors[i].Max = &v
		}
	}
	out.Actuators = append([]Actuator(nil), c.Actuators...)
	out.Commands = append([]string(nil), c.Commands...)
	return out
}

// normalise fills empty collections so JSON consumers always see arrays.
func (c *Capabilities) normalise() {
	if c.Sensors == nil {
		c.Sensors = []Sensor{}
	}
	if c.Actuators == nil {
		c.Actuators = []Actuator{}
	}
	if c.Commands == nil {
		c.Commands = []string{}
	}
}

// compactRegistration is the short-key registration reply:
// {p, t, i: device_id, s: timestamp, d: {dt, fw, s: [...], a: [...]}}.
type compactRegistration struct {
	Protocol string              `json:"p"`
	Type     string              `json:"t"`
	DeviceID string              `json:"i"`
	Data     *compactCapabilities `json:"d"`
}

type compactCapabilities struct {
	DeviceType *string           `json:"dt"`
	Firmware   string            `json:"fw"`
	Sensors    []json.RawMessage `json:"s"`
	Actuators  []json.RawMessage `json:"a"`
	Commands   []string          `json:"c"`
}

// compactSensor is the object form a sensor key may take.
type compactSensor struct {
	Name string   `json:"n"`
	Unit string   `json:"u"`
	Min  *float64 `json:"min"`
	Max  *float64 `json:"max"`
}

type compactActuator struct {
	Name string `json:"n"`
	Kind string `json:"k"`
}

// parseCompactRegistration interprets doc as a compact registration reply.
// The "dt" key distinguishes it from compact telemetry, which shares the
// envelope. Replies naming an id ValidDeviceID refuses are not accepted.
func parseCompactRegistration(doc []byte) (Capabilities, bool) {
	var msg compactRegistration
	if err := json.Unmarshal(doc, &msg); err != nil {
		return Capabilities{}, false
	}
	if msg.Data == nil || msg.Data.DeviceType == nil || !ValidDeviceID(msg.DeviceID) {
		return Capabilities{}, false
	}

	caps := Capabilities{
		DeviceID:        msg.DeviceID,
		DeviceType:      *msg.Data.DeviceType,
		FirmwareVersion: msg.Data.Firmware,
		Commands:        msg.Data.Commands,
	}
	for _, raw := range msg.Data.Sensors {
		var key string
		if json.Unmarshal(raw, &key) == nil {
			caps.Sensors = append(caps.Sensors, Sensor{Name: key})
			continue
		}
		var s compactSensor
		if json.Unmarshal(raw, &s) == nil && s.Name != "" {
			caps.Sensors = append(caps.Sensors, Sensor{Name: s.Name, Unit: s.Unit, Min: s.Min, Max: s.Max})
		}
	}
	for _, raw := range msg.Data.Actuators {
		var key string
		if json.Unmarshal(raw, &key) == nil {
			caps.Actuators = append(caps.Actuators, Actuator{Name: key, Kind: "toggle"})
			continue
		}
		var a compactActuator
		if json.Unmarshal(raw, &a) == nil && a.Name != "" {
			caps.Actuators = append(caps.Actuators, Actuator{Name: a.Name, Kind: a.Kind})
		}
	}
	caps.normalise()
	return caps, true
}

// parseVerboseRegistration interprets doc as a full-key registration reply,
// either bare or wrapped in an envelope's "payload".
func parseVerboseRegistration(doc []byte) (Capabilities, bool) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(doc, &keys); err != nil {
		return Capabilities{}, false
	}

	body := doc
	if _, ok := keys["device_id"]; !ok {
		payload, ok := keys["payload"]
		if !ok {
			return Capabilities{}, false
		}
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(payload, &inner); err != nil {
			return Capabilities{}, false
		}
		if _, ok := inner["device_id"]; !ok {
			return Capabilities{}, false
		}
		body = payload
	}

	var caps Capabilities
	if err := json.Unmarshal(body, &caps); err != nil {
		return Capabilities{}, false
	}
	if !ValidDeviceID(caps.DeviceID) {
		return Capabilities{}, false
	}
	caps.normalise()
	return caps, true
}
