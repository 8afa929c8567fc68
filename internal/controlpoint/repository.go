package controlpoint

import (
	"database/sql"
	"errors"

	"github.com/strefethen/upnp-control-go/internal/db"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// DeviceRecord is a row of the devices table.
type DeviceRecord struct {
	URL          string  `json:"url"`
	UDN          *string `json:"udn,omitempty"`
	FriendlyName *string `json:"friendly_name,omitempty"`
	DeviceType   *string `json:"device_type,omitempty"`
	Status       string  `json:"status"`
	AddedAt      string  `json:"added_at"`
	ConnectedAt  *string `json:"connected_at,omitempty"`
	LastError    *string `json:"last_error,omitempty"`
}

// DevicesRepository persists the device URLs the control point manages.
type DevicesRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewDevicesRepository creates a new DevicesRepository.
func NewDevicesRepository(dbPair DBPair) *DevicesRepository {
	return &DevicesRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Add inserts a URL. Adding a known URL is a no-op.
func (r *DevicesRepository) Add(url string) error {
	_, err := r.writer.Exec(`
		INSERT INTO devices (url, status, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT(url) DO NOTHING
	`, url, string(StatusPending), db.NowISO())
	return err
}

// MarkConnected records the identity of a connected device.
func (r *DevicesRepository) MarkConnected(url, udn, friendlyName, deviceType string) error {
	_, err := r.writer.Exec(`
		UPDATE devices
		SET udn = ?, friendly_name = ?, device_type = ?, status = ?, connected_at = ?, last_error = NULL
		WHERE url = ?
	`, udn, friendlyName, deviceType, string(StatusConnected), db.NowISO(), url)
	return err
}

// MarkUnavailable records the reason a device could not be reached.
func (r *DevicesRepository) MarkUnavailable(url, reason string) error {
	_, err := r.writer.Exec(`
		UPDATE devices SET status = ?, last_error = ? WHERE url = ?
	`, string(StatusUnavailable), reason, url)
	return err
}

// Remove deletes a URL.
func (r *DevicesRepository) Remove(url string) error {
	_, err := r.writer.Exec(`DELETE FROM devices WHERE url = ?`, url)
	return err
}

// GetByURL returns a single record, nil when unknown.
func (r *DevicesRepository) GetByURL(url string) (*DeviceRecord, error) {
	row := r.reader.QueryRow(`
		SELECT url, udn, friendly_name, device_type, status, added_at, connected_at, last_error
		FROM devices
		WHERE url = ?
	`, url)

	record, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// List returns every record in insertion order.
func (r *DevicesRepository) List() ([]DeviceRecord, error) {
	rows, err := r.reader.Query(`
		SELECT url, udn, friendly_name, device_type, status, added_at, connected_at, last_error
		FROM devices
		ORDER BY added_at ASC, url ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []DeviceRecord{}
	for rows.Next() {
		record, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*DeviceRecord, error) {
	var record DeviceRecord
	var udn, friendlyName, deviceType, connectedAt, lastError sql.NullString
	if err := row.Scan(&record.URL, &udn, &friendlyName, &deviceType, &record.Status, &record.AddedAt, &connectedAt, &lastError); err != nil {
		return nil, err
	}
	record.UDN = nullString(udn)
	record.FriendlyName = nullString(friendlyName)
	record.DeviceType = nullString(deviceType)
	record.ConnectedAt = nullString(connectedAt)
	record.LastError = nullString(lastError)
	return &record, nil
}

func nullString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
