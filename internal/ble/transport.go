package ble

import (
	"context"
	"strings"
)

// Property is a GATT characteristic capability flag.
type Property uint8

// Characteristic properties relevant to field units.
const (
	PropRead Property = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
	PropIndicate
)

// CanWrite reports whether either write mode is allowed.
func (p Property) CanWrite() bool {
	return p&(PropWrite|PropWriteWithoutResponse) != 0
}

// CanNotify reports whether the characteristic can push values.
func (p Property) CanNotify() bool {
	return p&(PropNotify|PropIndicate) != 0
}

// parseFlags converts BlueZ characteristic Flags into Property bits.
func parseFlags(flags []string) Property {
	var p Property
	for _, f := range flags {
		switch f {
		case "read":
			p |= PropRead
		case "write":
			p |= PropWrite
		case "write-without-response":
			p |= PropWriteWithoutResponse
		case "notify":
			p |= PropNotify
		case "indicate":
			p |= PropIndicate
		}
	}
	return p
}

// Adapter is a local radio able to scan for peripherals.
type Adapter interface {
	// Name identifies the adapter (e.g. "hci0").
	Name() string

	StartScan(ctx context.Context) error
	StopScan(ctx context.Context) error

	// Peripherals returns the peripherals currently known to the adapter.
	Peripherals(ctx context.Context) ([]Peripheral, error)

	Close() error
}

// AdapterOpener acquires an adapter. It returns ErrAdapterUnavailable
// when the host has no usable radio.
type AdapterOpener func(ctx context.Context) (Adapter, error)

// Peripheral is a remote device seen during a scan. The handle stays valid
// across disconnects so it can be reconnected.
type Peripheral interface {
	Address() string
	Name() string
	RSSI() int16

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected(ctx context.Context) (bool, error)

	// DiscoverServices blocks until the GATT database has been resolved.
	DiscoverServices(ctx context.Context) error

	// Characteristic looks up a characteristic by UUID after discovery.
	Characteristic(ctx context.Context, uuid string) (Characteristic, error)
}

// Characteristic is one GATT characteristic on a connected peripheral.
type Characteristic interface {
	UUID() string
	Properties() Property

	// Write sends data. withResponse selects an acknowledged write.
	Write(ctx context.Context, data []byte, withResponse bool) error

	// Subscribe enables notifications. The returned channel delivers each
	// notification payload and is closed when the stream ends, either
	// through Unsubscribe, ctx cancellation or the peripheral disconnecting.
	Subscribe(ctx context.Context) (<-chan []byte, error)

	Unsubscribe(ctx context.Context) error
}

// NameMatcher reports whether a peripheral name follows the field unit
// naming convention: it must contain one of the patterns.
type NameMatcher []string

// Match implements the filter. An empty name never matches.
func (m NameMatcher) Match(name string) bool {
	if name == "" {
		return false
	}
	for _, p := range m {
		if p != "" && strings.Contains(name, p) {
			return true
		}
	}
	return false
}
