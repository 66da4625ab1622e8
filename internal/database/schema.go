package database

import (
	"context"
	_ "embed"
)

//go:embed schema.sql
var Schema string

//go:embed sqlite_schema.sql
var SQLiteSchema string

// EnsureSchema creates missing tables. Existing tables are left untouched.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, Schema); err != nil {
		return wrapErr("apply schema", err)
	}
	return nil
}
