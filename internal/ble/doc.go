// Package ble is the radio transport for field units.
//
// It defines the small Adapter / Peripheral / Characteristic contract the
// discovery manager depends on, and implements it on Linux through the
// BlueZ D-Bus API (org.bluez Adapter1, Device1 and GattCharacteristic1).
//
// Notifications are delivered as raw chunks; framing and reassembly are the
// caller's concern. A notification stream closes when the peripheral
// disconnects, which is how callers detect link loss.
package ble
