package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitoring"
)

// pragmas are applied to every connection pool we open.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// DB is the test-history database.
type DB struct {
	*sql.DB
	path string
}

// NewDB opens (creating if needed) the SQLite database at path and brings
// its schema up to date with the embedded migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps the pragmas in force and serialises
	// writers the way SQLite wants anyway.
	sqlDB.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	monitoring.Logf("opened history database %s", path)
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }
