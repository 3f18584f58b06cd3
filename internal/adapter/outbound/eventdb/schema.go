package eventdb

import "database/sql"

// currentSchemaVersion tracks the single table this store owns. Unlike
// ruledb, there is no legacy-schema migration history to replay here: the
// Pending-Event Store is new with this implementation.
const currentSchemaVersion = 1

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}
	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if version > currentSchemaVersion {
		if err := recreate(db); err != nil {
			return err
		}
		version = 0
	}
	if version >= currentSchemaVersion {
		return nil
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS pending_events (
		idx        INTEGER PRIMARY KEY AUTOINCREMENT,
		unique_id  TEXT NOT NULL UNIQUE,
		kind       TEXT NOT NULL,
		payload    BLOB NOT NULL
	)`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_pending_events_kind ON pending_events(kind)`); err != nil {
		return err
	}

	if _, err := db.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	_, err = db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion)
	return err
}

func recreate(db *sql.DB) error {
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS pending_events`,
		`DROP TABLE IF EXISTS schema_version`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
