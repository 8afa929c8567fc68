package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/strefethen/upnp-control-go/internal/db"
	"github.com/strefethen/upnp-control-go/internal/sink"
)

var nowUTC = func() time.Time { return time.Now().UTC() }

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Entry is a stored state change.
type Entry struct {
	ID         int64  `json:"id"`
	DeviceUDN  string `json:"device_udn"`
	DeviceName string `json:"device_name"`
	ServiceID  string `json:"service_id"`
	Variable   string `json:"variable"`
	WireValue  string `json:"wire_value"`
	ChangedAt  string `json:"changed_at"`
}

// Journal records state changes in SQLite.
type Journal struct {
	dbPair *db.DBPair
}

// New creates a journal on an initialized database.
func New(dbPair *db.DBPair) *Journal {
	return &Journal{dbPair: dbPair}
}

// Publish implements sink.Sink.
func (j *Journal) Publish(ctx context.Context, changes []sink.Change) error {
	return j.Record(ctx, changes)
}

// Record stores a batch of changes in one transaction.
func (j *Journal) Record(ctx context.Context, changes []sink.Change) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := j.dbPair.Writer().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
    INSERT INTO state_changes (device_udn, device_name, service_id, variable, wire_value, changed_at)
    VALUES (?, ?, ?, ?, ?, ?)
  `)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range changes {
		changedAt := c.ChangedAt
		if changedAt.IsZero() {
			changedAt = nowUTC()
		}
		if _, err := stmt.ExecContext(ctx, c.DeviceUDN, c.DeviceName, c.ServiceID, c.Variable, c.WireValue, db.FormatTime(changedAt)); err != nil {
			return fmt.Errorf("insert change %s.%s: %w", c.ServiceID, c.Variable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Recent returns the newest entries first. deviceUDN filters when non-empty.
func (j *Journal) Recent(ctx context.Context, deviceUDN string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	query := `
    SELECT change_id, device_udn, device_name, service_id, variable, wire_value, changed_at
    FROM state_changes
  `
	args := []any{}
	if deviceUDN != "" {
		query += " WHERE device_udn = ?"
		args = append(args, deviceUDN)
	}
	query += " ORDER BY change_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.dbPair.Reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.DeviceUDN, &e.DeviceName, &e.ServiceID, &e.Variable, &e.WireValue, &e.ChangedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the cutoff and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := j.dbPair.Writer().ExecContext(ctx, `DELETE FROM state_changes WHERE changed_at < ?`, db.FormatTime(before))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
