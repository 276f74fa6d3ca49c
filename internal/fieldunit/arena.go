package fieldunit

import (
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-fieldlink/internal/ble"
)

// State is a device's position in the registration lifecycle.
type State int

const (
	StateDiscovered State = iota
	StateRegistering
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DiscoveredDevice is a sighting of a field unit.
type DiscoveredDevice struct {
	Address  string    `json:"address"`
	Name     string    `json:"name"`
	RSSI     int16     `json:"rssi"`
	LastSeen time.Time `json:"last_seen"`
}

// DeviceInfo is a snapshot of one arena entry.
type DeviceInfo struct {
	DiscoveredDevice
	State        State         `json:"state"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
	Connected    bool          `json:"connected"`
}

// entry is the single record held per address. Discovered, registering
// and registered devices live in one map so the views cannot disagree.
type entry struct {
	device     DiscoveredDevice
	state      State
	peripheral ble.Peripheral
	caps       *Capabilities
	session    *session
}

func (e *entry) info() DeviceInfo {
	info := DeviceInfo{DiscoveredDevice: e.device, State: e.state}
	if e.caps != nil {
		c := e.caps.Clone()
		info.Capabilities = &c
	}
	if e.session != nil {
		info.Connected = e.session.linkUp()
	}
	return info
}

// arena is guarded by Manager.mu.
type arena struct {
	byAddress map[string]*entry
	byID      map[string]string // device id → address
}

func newArena() *arena {
	return &arena{
		byAddress: make(map[string]*entry),
		byID:      make(map[string]string),
	}
}

// sight records a sighting and returns the entry.
func (a *arena) sight(p ble.Peripheral, address string, at time.Time) *entry {
	e, ok := a.byAddress[address]
	if !ok {
		e = &entry{state: StateDiscovered}
		a.byAddress[address] = e
	}
	e.device.Address = address
	if name := p.Name(); name != "" {
		e.device.Name = name
	}
	e.device.RSSI = p.RSSI()
	e.device.LastSeen = at
	e.peripheral = p
	if e.session != nil {
		e.session.setPeripheral(p)
	}
	return e
}

func (a *arena) unregistered() []DiscoveredDevice {
	out := make([]DiscoveredDevice, 0, len(a.byAddress))
	for _, e := range a.byAddress {
		if e.state != StateRegistered {
			out = append(out, e.device)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (a *arena) registered() []Capabilities {
	out := make([]Capabilities, 0, len(a.byID))
	for _, e := range a.byAddress {
		if e.state == StateRegistered && e.caps != nil {
			out = append(out, e.caps.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (a *arena) all() []DeviceInfo {
	out := make([]DeviceInfo, 0, len(a.byAddress))
	for _, e := range a.byAddress {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
