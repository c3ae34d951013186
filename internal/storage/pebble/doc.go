// Package pebblestore is a thin wrapper around Pebble adding an fsync policy,
// prefix scans, range deletes and a metrics hook.
//
//	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeInterval})
//	if err != nil { /* handle */ }
//	defer db.Close()
//	_ = db.Set([]byte("k"), []byte("v"))
//	_ = db.Scan([]byte("a"), []byte("z"), func(k, v []byte) error { return nil })
package pebblestore
