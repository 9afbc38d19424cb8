package history

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations must be listed in order, starting from version 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS deliveries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id    TEXT NOT NULL,
	received_at INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL,
	hashtag     TEXT NOT NULL DEFAULT '',
	threat      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	location    TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_deliveries_recorded_at ON deliveries (recorded_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE deliveries ADD COLUMN recipients INTEGER NOT NULL DEFAULT 0;

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
