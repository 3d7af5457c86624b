package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "facts: encrypted temporal SPO facts",
		SQL: `
CREATE TABLE facts (
    id                TEXT PRIMARY KEY,
    subject           TEXT NOT NULL,
    predicate         TEXT NOT NULL,

    -- Object is ciphertext at rest
    object_ct         BLOB NOT NULL,
    object_iv         BLOB NOT NULL,
    object_tag        BLOB NOT NULL,

    -- Temporal validity (unix ms); valid_to is exclusive, NULL = active
    valid_from        INTEGER NOT NULL,
    valid_to          INTEGER,
    last_confirmed_at INTEGER NOT NULL,
    last_updated      INTEGER NOT NULL,

    fact_type         TEXT NOT NULL CHECK (fact_type IN ('preference', 'plan', 'state', 'observation', 'error', 'decision', 'identity')),
    confidence        REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
    source            TEXT NOT NULL CHECK (source IN ('user', 'system', 'tool')),
    scope             TEXT NOT NULL CHECK (scope IN ('session', 'device', 'account')),

    -- Decay
    ttl_seconds       INTEGER,
    decay_half_life   INTEGER NOT NULL,

    entities          TEXT NOT NULL DEFAULT '[]',
    retrieval_count   INTEGER NOT NULL DEFAULT 0,
    last_retrieved_at INTEGER,

    -- Metadata is ciphertext at rest
    metadata_ct       BLOB,
    metadata_iv       BLOB,
    metadata_tag      BLOB,

    source_id         TEXT
);

CREATE INDEX idx_facts_subject_predicate ON facts(subject, predicate);
CREATE INDEX idx_facts_subject           ON facts(subject);
CREATE INDEX idx_facts_predicate         ON facts(predicate);
CREATE INDEX idx_facts_valid_to          ON facts(valid_to);
`,
	},
	{
		Version:     2,
		Description: "facts: at most one active fact per subject/predicate",
		SQL: `
CREATE UNIQUE INDEX idx_facts_active ON facts(subject, predicate) WHERE valid_to IS NULL;
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
