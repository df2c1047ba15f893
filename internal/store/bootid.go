package store

import "database/sql"

// BootIDStore persists the last bootId a hosted device advertised, so a
// restarted host can bump it instead of risking a reused
// value a control point may have already cached against the old boot.
type BootIDStore struct {
	db *sql.DB
}

// NewBootIDStore builds a BootIDStore over db.
func NewBootIDStore(db *DB) *BootIDStore {
	return &BootIDStore{db: db.Conn()}
}

// Next returns the bootId a device with the given UDN should advertise on
// this startup: one past whatever was last recorded, or 0 if the UDN has
// never been seen. The new value is persisted before it is returned.
func (s *BootIDStore) Next(udn string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var last int
	err = tx.QueryRow(`SELECT boot_id FROM boot_ids WHERE udn = ?`, udn).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}

	next := last + 1
	if err == sql.ErrNoRows {
		next = 0
	}

	_, err = tx.Exec(`
		INSERT INTO boot_ids (udn, boot_id) VALUES (?, ?)
		ON CONFLICT(udn) DO UPDATE SET boot_id = excluded.boot_id
	`, udn, next)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}
