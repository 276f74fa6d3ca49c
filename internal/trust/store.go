package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store is the persistence contract consumed by discovery and the API.
type Store interface {
	// RecordDiscovery upserts a sighting. It reports true only the first
	// time an address is ever seen.
	RecordDiscovery(ctx context.Context, mac, name string, rssi int16) (bool, error)

	// IsTrusted reports whether an operator has trusted the address.
	// Unknown addresses are untrusted.
	IsTrusted(ctx context.Context, mac string) (bool, error)

	// Trust marks an address trusted, creating the record if needed.
	Trust(ctx context.Context, mac, name string) error

	// Untrust clears the trusted flag. Returns ErrDeviceNotFound for
	// unknown addresses.
	Untrust(ctx context.Context, mac string) error

	// ListTrusted returns trusted devices ordered by name.
	ListTrusted(ctx context.Context) ([]Device, error)

	// ListKnown returns every device ever seen, most recent first.
	ListKnown(ctx context.Context) ([]Device, error)

	// Get returns one record or ErrDeviceNotFound.
	Get(ctx context.Context, mac string) (*Device, error)

	// UpdateMetadata stores what the device reported at registration.
	UpdateMetadata(ctx context.Context, mac, deviceType, firmware string) error

	// Delete forgets a device entirely.
	Delete(ctx context.Context, mac string) error

	// RecordRegistrationAttempt appends a handshake outcome.
	RecordRegistrationAttempt(ctx context.Context, attempt RegistrationAttempt) error

	// ListRegistrationAttempts returns up to limit outcomes, newest first.
	ListRegistrationAttempts(ctx context.Context, mac string, limit int) ([]RegistrationAttempt, error)
}

// SQLiteStore implements Store on the known_devices table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// NormalizeAddress upper-cases and validates a colon-separated MAC address.
func NormalizeAddress(mac string) (string, error) {
	mac = strings.ToUpper(strings.TrimSpace(mac))
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, mac)
	}
	for _, part := range parts {
		if len(part) != 2 {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, mac)
		}
		for _, c := range part {
			if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
				return "", fmt.Errorf("%w: %q", ErrInvalidAddress, mac)
			}
		}
	}
	return mac, nil
}

// RecordDiscovery upserts a sighting and reports whether it was the first.
func (s *SQLiteStore) RecordDiscovery(ctx context.Context, mac, name string, rssi int16) (bool, error) {
	mac, err := NormalizeAddress(mac)
	if err != nil {
		return false, err
	}
	now := s.now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM known_devices WHERE mac_address = ?", mac).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO known_devices (mac_address, device_name, first_seen, last_seen, is_trusted, rssi)
			VALUES (?, ?, ?, ?, 0, ?)`,
			mac, name, now, now, rssi)
		if err != nil {
			return false, fmt.Errorf("inserting device: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("committing discovery: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("querying device: %w", err)
	}

	// A sighting without a name keeps the name learned earlier.
	_, err = tx.ExecContext(ctx, `
		UPDATE known_devices
		SET last_seen = ?, rssi = ?, device_name = CASE WHEN ? = '' THEN device_name ELSE ? END
		WHERE mac_address = ?`,
		now, rssi, name, name, mac)
	if err != nil {
		return false, fmt.Errorf("updating device: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing discovery: %w", err)
	}
	return false, nil
}

// IsTrusted reports whether mac is trusted.
func (s *SQLiteStore) IsTrusted(ctx context.Context, mac string) (bool, error) {
	mac, err := NormalizeAddress(mac)
	if err != nil {
		return false, err
	}
	var trusted bool
	err = s.db.QueryRowContext(ctx,
		"SELECT is_trusted FROM known_devices WHERE mac_address = ?", mac,
	).Scan(&trusted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying trust: %w", err)
	}
	return trusted, nil
}

// Trust marks mac trusted. An empty name keeps any name already known.
func (s *SQLiteStore) Trust(ctx context.Context, mac, name string) error {
	mac, err := NormalizeAddress(mac)
	if err != nil {
		return err
	}
	now := s.now().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO known_devices (mac_address, device_name, first_seen, last_seen, is_trusted)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(mac_address) DO UPDATE SET
			is_trusted = 1,
			device_name = CASE WHEN excluded.device_name = '' THEN known_devices.device_name ELSE excluded.device_name END`,
		mac, name, now, now)
	if err != nil {
		return fmt.Errorf("trusting device: %w", err)
	}
	return nil
}

// Untrust clears the trusted flag.
func (s *SQLiteStore) Untrust(ctx context.Context, mac string) error {
	return s.SetTrust(ctx, mac, false)
}

// SetTrust sets the trusted flag on an existing record.
func (s *SQLiteStore) SetTrust(ctx context.Context, mac string, trusted bool) error {
	mac, err := NormalizeAddress(mac)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE known_devices SET is_trusted = ? WHERE mac_address = ?", trusted, mac)
	if err != nil {
		return fmt.Errorf("updating trust: %w", err)
	}
	return requireRow(res)
}

// ListTrusted returns trusted devices.
func (s *SQLiteStore) ListTrusted(ctx context.Context) ([]Device, error) {
	return s.query(ctx, selectDevices+" WHERE is_trusted = 1 ORDER BY device_name, mac_address")
}

// ListKnown returns all devices.
func (s *SQLiteStore) ListKnown(ctx context.Context) ([]Device, error) {
	return s.query(ctx, selectDevices+" ORDER BY last_seen DESC, mac_address")
}

// Get returns the record for mac.
func (s *SQLiteStore) Get(ctx context.Context, mac string) (*Device, error) {
	mac, err := NormalizeAddress(mac)
	if err != nil {
		return nil, err
	}
	devices, err := s.query(ctx, selectDevices+" WHERE mac_address = ?", mac)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrDeviceNotFound
	}
	return &devices[0], nil
}

// UpdateMetadata stores registration-time identity.
func (s *SQLiteStore) UpdateMetadata(ctx context.Context, mac, deviceType, firmware string) error {
	mac, err := NormalizeAddress(mac)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE known_devices SET device_type = ?, firmware_version = ? WHERE mac_address = ?",
		deviceType, firmware, mac)
	if err != nil {
		return fmt.Errorf("updating metadata: %w", err)
	}
	return requireRow(res)
}

// Delete removes a device and its registration history.
func (s *SQLiteStore) Delete(ctx context.Context, mac string) error {
	mac, err := NormalizeAddress(mac)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM known_devices WHERE mac_address = ?", mac)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(res)
}

// RecordRegistrationAttempt appends a handshake outcome.
func (s *SQLiteStore) RecordRegistrationAttempt(ctx context.Context, a RegistrationAttempt) error {
	mac, err := NormalizeAddress(a.MAC)
	if err != nil {
		return err
	}
	at := a.AttemptedAt
	if at.IsZero() {
		at = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO registration_attempts (mac_address, attempted_at, device_id, outcome, detail)
		VALUES (?, ?, ?, ?, ?)`,
		mac, at.UnixMilli(), nullString(a.DeviceID), string(a.Outcome), nullString(a.Detail))
	if err != nil {
		return fmt.Errorf("recording registration attempt: %w", err)
	}
	return nil
}

// ListRegistrationAttempts returns the newest outcomes for mac.
func (s *SQLiteStore) ListRegistrationAttempts(ctx context.Context, mac string, limit int) ([]RegistrationAttempt, error) {
	mac, err := NormalizeAddress(mac)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT mac_address, attempted_at, device_id, outcome, detail
		FROM registration_attempts
		WHERE mac_address = ?
		ORDER BY attempted_at DESC, id DESC
		LIMIT ?`, mac, limit)
	if err != nil {
		return nil, fmt.Errorf("querying registration attempts: %w", err)
	}
	defer rows.Close()

	var attempts []RegistrationAttempt
	for rows.Next() {
		var a RegistrationAttempt
		var at int64
		var deviceID, detail sql.NullString
		var outcome string
		if err := rows.Scan(&a.MAC, &at, &deviceID, &outcome, &detail); err != nil {
			return nil, fmt.Errorf("scanning registration attempt: %w", err)
		}
		a.AttemptedAt = time.UnixMilli(at)
		a.DeviceID = deviceID.String
		a.Detail = detail.String
		a.Outcome = Outcome(outcome)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registration attempts: %w", err)
	}
	return attempts, nil
}

const selectDevices = `
	SELECT mac_address, device_name, device_type, firmware_version,
		first_seen, last_seen, is_trusted, rssi
	FROM known_devices`

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		var deviceType, firmware sql.NullString
		var firstSeen, lastSeen int64
		var rssi sql.NullInt16
		if err := rows.Scan(&d.MAC, &d.Name, &deviceType, &firmware,
			&firstSeen, &lastSeen, &d.Trusted, &rssi); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.DeviceType = deviceType.String
		d.FirmwareVersion = firmware.String
		d.FirstSeen = time.Unix(firstSeen, 0)
		d.LastSeen = time.Unix(lastSeen, 0)
		if rssi.Valid {
			v := rssi.Int16
			d.RSSI = &v
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
