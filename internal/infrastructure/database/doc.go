// Package database provides the SQLite connection behind the bridge journal.
//
// This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Schema migrations from an embedded filesystem (see package migrations)
//   - A single-writer connection pool
//
// The database file is created with 0600 permissions and every query
// uses parameterised statements.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
