// Package database provides SQLite connectivity for scanlink.
//
// It opens the database with WAL mode and a busy timeout, limits the pool
// to a single writer and applies the embedded schema migrations.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: each file pair is YYYYMMDD_HHMMSS_name.up.sql
// and YYYYMMDD_HHMMSS_name.down.sql.
package database
