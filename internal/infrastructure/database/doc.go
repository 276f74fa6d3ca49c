// Package database provides SQLite connectivity for fieldlink.
//
// It opens the trust store database (WAL mode, busy timeout, foreign keys),
// applies embedded schema migrations, and exposes a health check.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
