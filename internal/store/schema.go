package store

const schemaVersion = 1

// Records are append-only; sync state lives in its own marker table so a record row is never
// rewritten after insert.
var schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS records (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	date             TEXT NOT NULL,
	location         TEXT NOT NULL,
	location_id      TEXT,
	admin_log_source TEXT NOT NULL,
	payload          TEXT NOT NULL,
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS records_date ON records(date);

CREATE TABLE IF NOT EXISTS record_sync (
	record_id TEXT PRIMARY KEY REFERENCES records(id),
	synced_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	aliases    TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS moods (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	date       TEXT NOT NULL,
	ts         TEXT NOT NULL,
	tier       INTEGER NOT NULL,
	score      INTEGER NOT NULL,
	categories TEXT NOT NULL,
	weather    TEXT
);
CREATE INDEX IF NOT EXISTS moods_ts ON moods(ts);

CREATE TABLE IF NOT EXISTS last_session (
	id       INTEGER PRIMARY KEY CHECK (id = 1),
	location TEXT NOT NULL,
	work     TEXT NOT NULL,
	date     TEXT NOT NULL
);
`
