package trust

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-fieldlink/migrations"
)

const (
	macA = "AA:BB:CC:DD:EE:01"
	macB = "AA:BB:CC:DD:EE:02"
)

// setupTestStore opens an in-memory database with the real schema applied.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.MigrateFrom(ctx, migrations.FS()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return NewSQLiteStore(db.DB)
}

func TestRecordDiscovery_FirstSightingIsNew(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	isNew, err := store.RecordDiscovery(ctx, macA, "Survon Field Unit", -60)
	if err != nil {
		t.Fatalf("RecordDiscovery() error = %v", err)
	}
	if !isNew {
		t.Error("first sighting should be new")
	}

	isNew, err = store.RecordDiscovery(ctx, macA, "Survon Field Unit", -48)
	if err != nil {
		t.Fatalf("RecordDiscovery() error = %v", err)
	}
	if isNew {
		t.Error("second sighting should not be new")
	}

	dev, err := store.Get(ctx, macA)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if dev.RSSI == nil || *dev.RSSI != -48 {
		t.Errorf("RSSI = %v, want -48", dev.RSSI)
	}
	if dev.Trusted {
		t.Error("discovered device should start untrusted")
	}
}

func TestRecordDiscovery_KeepsNameWhenSightingIsAnonymous(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.RecordDiscovery(ctx, macA, "Field Unit 7", -70); err != nil {
		t.Fatalf("RecordDiscovery() error = %v", err)
	}
	if _, err := store.RecordDiscovery(ctx, macA, "", -71); err != nil {
		t.Fatalf("RecordDiscovery() error = %v", err)
	}

	dev, err := store.Get(ctx, macA)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if dev.Name != "Field Unit 7" {
		t.Errorf("Name = %q, want %q", dev.Name, "Field Unit 7")
	}
}

func TestRecordDiscovery_NormalizesAddress(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.RecordDiscovery(ctx, "aa:bb:cc:dd:ee:01", "x", 0); err != nil {
		t.Fatalf("RecordDiscovery() error = %v", err)
	}
	isNew, err := store.RecordDiscovery(ctx, macA, "x", 0)
	if err != nil {
		t.Fatalf("RecordDiscovery() error = %v", err)
	}
	if isNew {
		t.Error("lower- and upper-case forms should be the same device")
	}
}

func TestTrustLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	trusted, err := store.IsTrusted(ctx, macA)
	if err != nil {
		t.Fatalf("IsTrusted() error = %v", err)
	}
	if trusted {
		t.Error("unknown device should not be trusted")
	}

	if _, err := store.RecordDiscovery(ctx, macA, "Survon A", -50); err != nil {
		t.Fatalf("RecordDiscovery() error = %v", err)
	}
	if err := store.Trust(ctx, macA, ""); err != nil {
		t.Fatalf("Trust() error = %v", err)
	}
	// Trusting twice is harmless.
	if err := store.Trust(ctx, macA, ""); err != nil {
		t.Fatalf("second Trust() error = %v", err)
	}

	trusted, err = store.IsTrusted(ctx, macA)
	if err != nil {
		t.Fatalf("IsTrusted() error = %v", err)
	}
	if !trusted {
		t.Error("device should be trusted")
	}

	list, err := store.ListTrusted(ctx)
	if err != nil {
		t.Fatalf("ListTrusted() error = %v", err)
	}
	if len(list) != 1 || list[0].Name != "Survon A" {
		t.Fatalf("ListTrusted() = %+v, want one device named Survon A", list)
	}

	if err := store.Untrust(ctx, macA); err != nil {
		t.Fatalf("Untrust() error = %v", err)
	}
	trusted, _ = store.IsTrusted(ctx, macA)
	if trusted {
		t.Error("device should be untrusted")
	}
}

func TestTrust_CreatesUnknownDevice(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Trust(ctx, macB, "Pre-provisioned"); err != nil {
		t.Fatalf("Trust() error = %v", err)
	}
	// A later first sighting is not "new": the operator already knows it.
	isNew, err := store.RecordDiscovery(ctx, macB, "Survon B", -40)
	if err != nil {
		t.Fatalf("RecordDiscovery() error = %v", err)
	}
	if isNew {
		t.Error("pre-trusted device should not be reported as new")
	}
}

func TestNotFoundErrors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"Untrust", func() error { return store.Untrust(ctx, macA) }},
		{"UpdateMetadata", func() error { return store.UpdateMetadata(ctx, macA, "valve", "1.0") }},
		{"Delete", func() error { return store.Delete(ctx, macA) }},
		{"Get", func() error { _, err := store.Get(ctx, macA); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrDeviceNotFound) {
				t.Errorf("%s() error = %v, want ErrDeviceNotFound", tt.name, err)
			}
		})
	}
}

func TestUpdateMetadataAndListKnown(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Unix(1_760_000_000, 0)
	store.now = func() time.Time { return base }
	if _, err := store.RecordDiscovery(ctx, macA, "A", -50); err != nil {
		t.Fatalf("RecordDiscovery() error = %v", err)
	}
	store.now = func() time.Time { return base.Add(time.Minute) }
	if _, err := store.RecordDiscovery(ctx, macB, "B", -50); err != nil {
		t.Fatalf("RecordDiscovery() error = %v", err)
	}

	if err := store.UpdateMetadata(ctx, macA, "soil_sensor", "2.1.0"); err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}

	known, err := store.ListKnown(ctx)
	if err != nil {
		t.Fatalf("ListKnown() error = %v", err)
	}
	if len(known) != 2 {
		t.Fatalf("ListKnown() len = %d, want 2", len(known))
	}
	if known[0].MAC != macB {
		t.Errorf("ListKnown()[0] = %s, want most recent %s", known[0].MAC, macB)
	}
	if known[1].DeviceType != "soil_sensor" || known[1].FirmwareVersion != "2.1.0" {
		t.Errorf("metadata = (%q, %q), want (soil_sensor, 2.1.0)", known[1].DeviceType, known[1].FirmwareVersion)
	}
	if !known[1].FirstSeen.Equal(base) {
		t.Errorf("FirstSeen = %v, want %v", known[1].FirstSeen, base)
	}
}

func TestRegistrationAttempts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.RecordDiscovery(ctx, macA, "A", -50); err != nil {
		t.Fatalf("RecordDiscovery() error = %v", err)
	}

	base := time.Unix(1_760_000_000, 0)
	attempts := []RegistrationAttempt{
		{MAC: macA, AttemptedAt: base, Outcome: OutcomeFailed, Detail: "registration timeout"},
		{MAC: macA, AttemptedAt: base.Add(time.Minute), Outcome: OutcomeRegistered, DeviceID: "soil_01"},
	}
	for _, a := range attempts {
		if err := store.RecordRegistrationAttempt(ctx, a); err != nil {
			t.Fatalf("RecordRegistrationAttempt() error = %v", err)
		}
	}

	got, err := store.ListRegistrationAttempts(ctx, macA, 10)
	if err != nil {
		t.Fatalf("ListRegistrationAttempts() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Outcome != OutcomeRegistered || got[0].DeviceID != "soil_01" {
		t.Errorf("newest attempt = %+v, want registered soil_01", got[0])
	}
	if got[1].Detail != "registration timeout" {
		t.Errorf("oldest attempt detail = %q", got[1].Detail)
	}

	// Forgetting the device drops its history.
	if err := store.Delete(ctx, macA); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, err = store.ListRegistrationAttempts(ctx, macA, 10)
	if err != nil {
		t.Fatalf("ListRegistrationAttempts() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("history after delete = %d rows, want 0", len(got))
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF", false},
		{" 01:23:45:67:89:AB ", "01:23:45:67:89:AB", false},
		{"", "", true},
		{"AA:BB:CC:DD:EE", "", true},
		{"AA:BB:CC:DD:EE:GG", "", true},
		{"AAA:BB:CC:DD:EE:F", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeAddress(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("NormalizeAddress(%q) error = %v, want ErrInvalidAddress", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeAddress(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
