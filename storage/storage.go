// Package storage is a local sqlite cache of session summaries and
// settled conversation pairs, so the session list and transcripts
// render without waiting on the backend. The backend stays the source
// of truth: every explicit fetch replaces the cached rows wholesale.
package storage

import (
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// NewSqliteDB creates a new sqlite database
func NewSqliteDB(file string) (*sqlx.DB, error) {
	return sqlx.Connect("sqlite", file)
}
