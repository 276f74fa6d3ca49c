package ble

import "errors"

// Transport errors. Callers match with errors.Is; the D-Bus cause is wrapped.
var (
	// ErrAdapterUnavailable is returned when no powered radio adapter exists.
	ErrAdapterUnavailable = errors.New("ble: adapter unavailable")

	// ErrScanFailed is returned when discovery cannot be started or read.
	ErrScanFailed = errors.New("ble: scan failed")

	// ErrConnectFailed is returned when a peripheral connection is refused or times out.
	ErrConnectFailed = errors.New("ble: connect failed")

	// ErrNotConnected is returned for operations on a disconnected peripheral.
	ErrNotConnected = errors.New("ble: not connected")

	// ErrServiceDiscovery is returned when GATT services never resolve.
	ErrServiceDiscovery = errors.New("ble: service discovery failed")

	// ErrCharacteristicNotFound is returned when a required characteristic is absent.
	ErrCharacteristicNotFound = errors.New("ble: characteristic not found")

	// ErrWriteFailed is returned when a characteristic write is rejected.
	ErrWriteFailed = errors.New("ble: write failed")

	// ErrNotifyFailed is returned when notifications cannot be enabled.
	ErrNotifyFailed = errors.New("ble: notify failed")
)
