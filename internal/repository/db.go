package repository

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database in WAL mode with the given busy timeout so
// that concurrent writers queue inside the engine instead of failing fast.
func Open(filename string, busyTimeout time.Duration) (*sql.DB, error) {
	if filename == "" {
		return nil, fmt.Errorf("database filename is empty")
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?%s", filename, q.Encode()))
	if err != nil {
		return nil, fmt.Errorf("while opening database %s: %w", filename, err)
	}
	return db, nil
}
