package sqlite

import "database/sql"

// schema contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
// Times are stored as Unix milliseconds so range queries compare integers.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    email TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    image TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
    id TEXT PRIMARY KEY,
    start_time INTEGER NOT NULL,
    end_time INTEGER,
    status TEXT NOT NULL CHECK (status IN ('active', 'completed')),
    mode TEXT NOT NULL CHECK (mode IN ('auto', 'manual')),
    location TEXT NOT NULL CHECK (location IN ('inside', 'outside')),
    pees INTEGER NOT NULL DEFAULT 0 CHECK (pees >= 0),
    poops INTEGER NOT NULL DEFAULT 0 CHECK (poops >= 0),
    revision INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    CHECK (mode <> 'auto' OR location = 'outside')
);

CREATE TABLE IF NOT EXISTS entry_users (
    entry_id TEXT NOT NULL,
    email TEXT NOT NULL,
    name TEXT NOT NULL,
    image TEXT,
    position INTEGER NOT NULL,
    PRIMARY KEY (entry_id, email),
    FOREIGN KEY (entry_id) REFERENCES entries(id) ON DELETE CASCADE
);

-- At most one walk is in progress at a time.
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_single_active
    ON entries(status) WHERE status = 'active' AND mode = 'auto';

CREATE INDEX IF NOT EXISTS idx_entries_start_time ON entries(start_time);
CREATE INDEX IF NOT EXISTS idx_entries_status_start ON entries(status, start_time);
CREATE INDEX IF NOT EXISTS idx_entry_users_entry_id ON entry_users(entry_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
