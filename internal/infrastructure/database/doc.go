// Package database provides SQLite connectivity for Motion Core.
//
// It opens the database file in WAL mode with a single-connection pool and
// applies versioned schema migrations from any fs.FS (normally the embedded
// migrations.FS).
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql should ship with a .down.sql.
package database
