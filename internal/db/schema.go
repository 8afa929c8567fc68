package db

const schemaSQL = `
-- ===========================================================================
-- DEVICES (description URLs the control point connects to)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS devices (
  url TEXT PRIMARY KEY,
  udn TEXT,
  friendly_name TEXT,
  device_type TEXT,
  status TEXT NOT NULL DEFAULT 'PENDING',
  added_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
  connected_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_devices_udn ON devices(udn);

-- ===========================================================================
-- STATE CHANGES (journal of evented and polled state variable updates)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS state_changes (
  change_id INTEGER PRIMARY KEY AUTOINCREMENT,
  device_udn TEXT NOT NULL,
  service_id TEXT NOT NULL,
  variable TEXT NOT NULL,
  wire_value TEXT NOT NULL,
  changed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_state_changes_device ON state_changes(device_udn, changed_at);
CREATE INDEX IF NOT EXISTS idx_state_changes_changed_at ON state_changes(changed_at);
`
