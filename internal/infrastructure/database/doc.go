// Package database provides SQLite storage for the Boneco bridge.
//
// The database holds the paired device entries (address, device class and
// the key negotiated during pairing) and a bounded history of published
// snapshots. It is opened with a single connection; SQLite serialises writes
// anyway and the bridge's write rate is a handful of rows per minute.
//
// Schema changes are plain SQL files applied by Migrate from any fs.FS,
// normally the embedded migrations package:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
