// Package device stores paired devices and their snapshot history.
//
// An Entry is the persisted outcome of pairing: address, derived key and
// device class. The Registry wraps a Repository with an in-memory cache
// and is the entry store behind pairing and the bridge.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	entry := &device.Entry{
//	    Address:     "AA:BB:CC:DD:EE:FF",
//	    Key:         key,
//	    DeviceClass: boneco.ClassTopClimate,
//	    Title:       "H700",
//	}
//	if err := registry.CreateEntry(ctx, entry); err != nil {
//	    return err
//	}
//
// SQLiteHistoryRepository keeps recent snapshots per entry in the
// snapshot_history table. Rows are removed with the entry and by
// PruneHistory.
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The Repository implementation
// must also be thread-safe.
package device
