package ble

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name       string
		flags      []string
		wantWrite  bool
		wantNotify bool
	}{
		{"command characteristic", []string{"write", "write-without-response"}, true, false},
		{"write without response only", []string{"write-without-response"}, true, false},
		{"telemetry characteristic", []string{"notify"}, false, true},
		{"indicate counts as notify", []string{"read", "indicate"}, false, true},
		{"read only", []string{"read"}, false, false},
		{"unknown flags ignored", []string{"authenticated-signed-writes"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parseFlags(tt.flags)
			if p.CanWrite() != tt.wantWrite {
				t.Errorf("CanWrite() = %v, want %v", p.CanWrite(), tt.wantWrite)
			}
			if p.CanNotify() != tt.wantNotify {
				t.Errorf("CanNotify() = %v, want %v", p.CanNotify(), tt.wantNotify)
			}
		})
	}
}

func TestNameMatcher(t *testing.T) {
	m := NameMatcher{"Survon", "Field Unit"}

	tests := []struct {
		name string
		want bool
	}{
		{"Survon-Soil-01", true},
		{"Garden Field Unit", true},
		{"survon lowercase", false},
		{"JBL Speaker", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Match(tt.name); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestDevicePath(t *testing.T) {
	got := DevicePath("hci0", "aa:bb:cc:dd:ee:ff")
	want := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	if got != want {
		t.Errorf("DevicePath() = %s, want %s", got, want)
	}
}

func TestSelectAdapter(t *testing.T) {
	objects := managedObjects{
		"/org/bluez/hci1": {bluezAdapter1: {"Powered": dbus.MakeVariant(true)}},
		"/org/bluez/hci0": {bluezAdapter1: {"Powered": dbus.MakeVariant(false)}},
		"/org/bluez/hci2": {bluezAdapter1: {"Powered": dbus.MakeVariant(true)}},
		"/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF": {
			bluezDevice1: {"Address": dbus.MakeVariant("AA:BB:CC:DD:EE:FF")},
		},
	}

	t.Run("first powered adapter", func(t *testing.T) {
		path, err := selectAdapter(objects, "")
		if err != nil {
			t.Fatalf("selectAdapter() error = %v", err)
		}
		if path != "/org/bluez/hci1" {
			t.Errorf("selectAdapter() = %s, want /org/bluez/hci1", path)
		}
	})

	t.Run("named adapter", func(t *testing.T) {
		path, err := selectAdapter(objects, "hci2")
		if err != nil {
			t.Fatalf("selectAdapter() error = %v", err)
		}
		if path != "/org/bluez/hci2" {
			t.Errorf("selectAdapter() = %s, want /org/bluez/hci2", path)
		}
	})

	t.Run("named adapter unpowered", func(t *testing.T) {
		if _, err := selectAdapter(objects, "hci0"); err == nil {
			t.Error("selectAdapter() expected error for unpowered adapter")
		}
	})

	t.Run("no adapters", func(t *testing.T) {
		if _, err := selectAdapter(managedObjects{}, ""); err != ErrAdapterUnavailable { //nolint:errorlint // exact sentinel
			t.Errorf("selectAdapter() error = %v, want ErrAdapterUnavailable", err)
		}
	})
}

func TestFindCharacteristic(t *testing.T) {
	device := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	objects := managedObjects{
		device + "/service0010/char0011": {bluezGattChar: {
			"UUID":  dbus.MakeVariant("6E400002-B5A3-F393-E0A9-E50E24DCCA9E"),
			"Flags": dbus.MakeVariant([]string{"write-without-response"}),
		}},
		device + "/service0010/char0013": {bluezGattChar: {
			"UUID":  dbus.MakeVariant("6e400003-b5a3-f393-e0a9-e50e24dcca9e"),
			"Flags": dbus.MakeVariant([]string{"notify"}),
		}},
		"/org/bluez/hci0/dev_11_22_33_44_55_66/service0010/char0011": {bluezGattChar: {
			"UUID": dbus.MakeVariant("6e400001-b5a3-f393-e0a9-e50e24dcca9e"),
		}},
	}

	path, flags, ok := findCharacteristic(objects, device, "6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	if !ok {
		t.Fatal("expected command characteristic to be found (case-insensitive UUID)")
	}
	if path != device+"/service0010/char0011" {
		t.Errorf("path = %s", path)
	}
	if !parseFlags(flags).CanWrite() {
		t.Error("command characteristic should be writable")
	}

	if _, _, ok := findCharacteristic(objects, device, "6e400001-b5a3-f393-e0a9-e50e24dcca9e"); ok {
		t.Error("characteristic under another device must not match")
	}
}

func TestInterpretSignal(t *testing.T) {
	device := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	char := device + "/service0010/char0013"

	changed := func(path dbus.ObjectPath, props map[string]dbus.Variant) *dbus.Signal {
		return &dbus.Signal{
			Path: path,
			Name: propertiesChanged,
			Body: []any{bluezGattChar, props, []string{}},
		}
	}

	t.Run("value notification", func(t *testing.T) {
		value, disconnected := interpretSignal(
			changed(char, map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte(`{"a":1}`))}), char, device)
		if disconnected {
			t.Error("unexpected disconnect")
		}
		if string(value) != `{"a":1}` {
			t.Errorf("value = %q", value)
		}
	})

	t.Run("device disconnect", func(t *testing.T) {
		_, disconnected := interpretSignal(
			changed(device, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}), char, device)
		if !disconnected {
			t.Error("expected disconnect")
		}
	})

	t.Run("device RSSI change ignored", func(t *testing.T) {
		value, disconnected := interpretSignal(
			changed(device, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-40))}), char, device)
		if value != nil || disconnected {
			t.Error("RSSI change should be ignored")
		}
	})

	t.Run("other signal ignored", func(t *testing.T) {
		sig := &dbus.Signal{Path: char, Name: "org.bluez.Other", Body: nil}
		if value, disconnected := interpretSignal(sig, char, device); value != nil || disconnected {
			t.Error("unrelated signal should be ignored")
		}
	})
}
