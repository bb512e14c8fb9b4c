// Package database provides the SQLite connection used for the layout
// apply history.
//
// The connection runs in WAL mode with a busy timeout and a single pooled
// connection. Schema changes are versioned SQL files applied by Migrate
// from any fs.FS; the service embeds them from the migrations package.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
