package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"
)

// loadKVJSONL reads kv.jsonl from dataDir into the kv table. Loading is
// transactional: either every valid line lands or the table stays empty.
// Malformed lines and unknown fields are tolerated.
func loadKVJSONL(db *sql.DB, dataDir string) error {
	records, err := readKVFile(filepath.Join(dataDir, kvJSONL))
	if err != nil {
		return fmt.Errorf("reading %s: %w", kvJSONL, err)
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing kv insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		updatedAt := rec.UpdatedAt
		if updatedAt == "" {
			updatedAt = time.Now().UTC().Format(time.RFC3339)
		}
		if _, err := stmt.Exec(rec.Key, string(rec.Value), updatedAt); err != nil {
			return fmt.Errorf("loading key %q: %w", rec.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}
