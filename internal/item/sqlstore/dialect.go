package sqlstore

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// The driver packages are imported by name for their error types; the
// imports also register the "sqlite" and "mysql" database/sql drivers.

// Dialect captures what differs between the supported SQL engines.
type Dialect struct {
	Name   string
	driver string

	// schema is applied in order inside the first migration.
	schema []string

	// maxOpenConns caps the pool, 0 means unlimited.
	maxOpenConns int

	isDuplicate func(error) bool
}

// SQLite stores items in a local file through the pure-Go modernc driver.
// A single connection serializes writers, which keeps the CAS update free of
// SQLITE_BUSY retries.
var SQLite = Dialect{
	Name:   "sqlite",
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS items (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			person_name TEXT NOT NULL,
			description TEXT NOT NULL,
			category    TEXT NOT NULL CHECK (category IN ('urgent', 'medium', 'small')),
			created_at  INTEGER NOT NULL,
			created_by  TEXT NOT NULL,
			resolved    INTEGER NOT NULL DEFAULT 0,
			resolved_at INTEGER NULL,
			CHECK ((resolved = 1) = (resolved_at IS NOT NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_resolved_at ON items(resolved, resolved_at)`,
	},
	maxOpenConns: 1,
	isDuplicate: func(err error) bool {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			// primary result code only, fall back to the message
			return strings.Contains(se.Error(), "UNIQUE constraint failed")
		}
		return false
	},
}

// MySQL stores items in a MySQL or MariaDB database through go-sql-driver/mysql.
var MySQL = Dialect{
	Name:   "mysql",
	driver: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS items (
			seq         BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			id          VARCHAR(64) NOT NULL,
			person_name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			category    VARCHAR(16) NOT NULL,
			created_at  BIGINT NOT NULL,
			created_by  VARCHAR(64) NOT NULL,
			resolved    TINYINT(1) NOT NULL DEFAULT 0,
			resolved_at BIGINT NULL,
			UNIQUE KEY uq_items_id (id),
			KEY idx_items_resolved_at (resolved, resolved_at),
			CONSTRAINT chk_items_category CHECK (category IN ('urgent', 'medium', 'small'))
		)`,
	},
	isDuplicate: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == 1062
	},
}

// ParseDialect returns the dialect registered under name.
func ParseDialect(name string) (Dialect, bool) {
	switch name {
	case SQLite.Name:
		return SQLite, true
	case MySQL.Name:
		return MySQL, true
	default:
		return Dialect{}, false
	}
}
