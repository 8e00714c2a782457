package sqlite

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) a SQLite database at path with WAL enabled.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}
	// single writer
	db.SetMaxOpenConns(1)
	return db, nil
}
