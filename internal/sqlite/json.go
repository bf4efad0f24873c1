package sqlite

import "encoding/json"

// File names inside DataDir.
const (
	kvJSONL    = "kv.jsonl"
	databaseDB = "mimi.db"
)

// kvJSON is one line of kv.jsonl. Value is kept verbatim so that whatever a
// writer stored (object, JSON-encoded string, number) reads back unchanged.
type kvJSON struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt string          `json:"updated_at"`
}
