// Package store persists the two pieces of state that need to survive a
// process restart: a device host's bootId counter (bumped on every
// process restart) and a control point's remote-device cache, so a
// restarted control point can serve cached device data immediately while
// SSDP re-discovery runs in the background. Subscriptions are deliberately
// not persisted here — a Subscription's SID is owned by the host that
// issued it, and GENA carries no restart-survival requirement.
//
// The connection+migration shape is a direct generalization of the
// bridge's internal/store/db.go: sqlite via modernc.org/sqlite (no cgo),
// WAL mode, a fixed set of CREATE TABLE IF NOT EXISTS migrations run in
// order at New.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite connection and runs migrations at construction.
type DB struct {
	conn *sql.DB
}

// New opens dbPath in WAL mode with foreign keys on and runs migrations.
func New(dbPath string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", dbPath)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("store: database initialized", "path", dbPath)
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying *sql.DB for direct queries.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) migrate() error {
	migrations := []string{
		migrationBootIDs,
		migrationRemoteDevices,
	}
	for i, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// boot_ids tracks, per hosted device UDN, the last bootId advertised.
const migrationBootIDs = `
CREATE TABLE IF NOT EXISTS boot_ids (
    udn TEXT PRIMARY KEY,
    boot_id INTEGER NOT NULL
);
`

// remote_devices is the control point's restart-surviving device cache: one
// row per cached root device, holding the raw description/SCPD bytes so
// they can be re-parsed with internal/descriptions on load rather than
// reserializing the parsed model.Tree directly.
const migrationRemoteDevices = `
CREATE TABLE IF NOT EXISTS remote_devices (
    udn TEXT PRIMARY KEY,
    location TEXT NOT NULL,
    boot_id INTEGER NOT NULL,
    config_id INTEGER NOT NULL,
    description_xml BLOB NOT NULL,
    scpd_documents BLOB NOT NULL,
    cached_at INTEGER NOT NULL
);
`
