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

CREATE TABLE IF NOT EXISTS ripples (
	account     TEXT NOT NULL,
	source_seq  INTEGER NOT NULL,
	origin      TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	received_at INTEGER NOT NULL,
	PRIMARY KEY (account, source_seq, received_at)
);

CREATE INDEX IF NOT EXISTS idx_ripples_account ON ripples(account);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
