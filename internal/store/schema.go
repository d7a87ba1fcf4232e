package store

import (
	"database/sql"

	"codeberg.org/mutker/beamlog/internal/errors"
	"codeberg.org/mutker/beamlog/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       run_id      TEXT NOT NULL,
	       measurement TEXT NOT NULL,
	       timestamp   INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
	       error       TEXT
	   );
	   CREATE INDEX IF NOT EXISTS samples_timestamp ON samples (timestamp);
	   CREATE TABLE IF NOT EXISTS sample_fields (
	       sample_id   INTEGER NOT NULL REFERENCES samples (id) ON DELETE CASCADE,
	       name        TEXT NOT NULL,
	       kind        TEXT NOT NULL CHECK (kind IN ('real', 'integer', 'bool', 'text', 'null')),
	       value,
	       PRIMARY KEY (sample_id, name)
	   );
	   CREATE TABLE IF NOT EXISTS sample_tags (
	       sample_id   INTEGER NOT NULL REFERENCES samples (id) ON DELETE CASCADE,
	       name        TEXT NOT NULL,
	       value       TEXT NOT NULL,
	       PRIMARY KEY (sample_id, name)
	   );`

	insertSampleSQL = `
    INSERT INTO samples (run_id, measurement, timestamp, error)
    VALUES (?, ?, ?, ?)`

	insertFieldSQL = `
    INSERT INTO sample_fields (sample_id, name, kind, value)
    VALUES (?, ?, ?, ?)`

	insertTagSQL = `
    INSERT INTO sample_tags (sample_id, name, value)
    VALUES (?, ?, ?)`

	selectRecentSQL = `
    SELECT id, run_id, measurement, timestamp, error
    FROM samples
    ORDER BY timestamp DESC, id DESC
    LIMIT ?`

	selectFieldsSQL = `
    SELECT name, kind, value
    FROM sample_fields
    WHERE sample_id = ?`

	selectTagsSQL = `
    SELECT name, value
    FROM sample_tags
    WHERE sample_id = ?`
)

// tables lists every table of the schema in drop order.
var tables = []string{"sample_tags", "sample_fields", "samples", "schema_versions"}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
