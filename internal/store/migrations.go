package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS downloads (
	id            TEXT PRIMARY KEY,
	account       TEXT NOT NULL,
	message_index INTEGER NOT NULL,
	message_uid   INTEGER NOT NULL DEFAULT 0,
	filename      TEXT NOT NULL,
	path          TEXT NOT NULL,
	size          INTEGER NOT NULL DEFAULT 0,
	saved_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_downloads_account ON downloads(account);
CREATE INDEX IF NOT EXISTS idx_downloads_saved_at ON downloads(saved_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_downloads_account_index
	ON downloads(account, message_index);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
