package sqlite

// Schema DDL. The database is a query cache rebuilt from kv.jsonl on every
// Attach, so there are no migrations.
const (
	createKV = `CREATE TABLE kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	idxKVUpdated = `CREATE INDEX idx_kv_updated ON kv(updated_at);`
)

// schemaDDL lists all statements executed on a fresh database.
var schemaDDL = []string{
	createKV,
	idxKVUpdated,
}
