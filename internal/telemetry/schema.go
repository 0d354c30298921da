package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/tempdisplayctl/internal/errors"
)

// initSchema initializes the database schema for the cycle log
func initSchema(db *sql.DB) error {
	errFactory := errors.New()

	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS cycles (
            timestamp INTEGER PRIMARY KEY,
            temperature INTEGER,
            reading_state TEXT,
            wrote INTEGER,
            skipped INTEGER,
            source_failures INTEGER,
            device_failures INTEGER,
            interval_ms INTEGER
        )
    `)
	if err != nil {
		return errFactory.Wrap(ErrStorageInit, err)
	}

	return nil
}
