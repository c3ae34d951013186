package pebblestore

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = pebble.ErrNotFound

// FsyncMode defines durability behaviour for writes.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every committed batch.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble.
	FsyncModeNever
)

func (m FsyncMode) String() string {
	switch m {
	case FsyncModeAlways:
		return "always"
	case FsyncModeInterval:
		return "interval"
	case FsyncModeNever:
		return "never"
	default:
		return "unspecified"
	}
}

// ParseFsyncMode reads always|interval|never; empty means unspecified.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return FsyncModeUnspecified, nil
	case "always":
		return FsyncModeAlways, nil
	case "interval":
		return FsyncModeInterval, nil
	case "never":
		return FsyncModeNever, nil
	}
	return FsyncModeUnspecified, errors.Newf("unknown fsync mode %q", s)
}

// Options configures the store.
type Options struct {
	DataDir       string
	Fsync         FsyncMode
	FsyncInterval time.Duration
	// PebbleOptions allows advanced tuning; nil uses defaults.
	PebbleOptions *pebble.Options
	Metrics       MetricsHook
}

// MetricsHook observes storage operations.
type MetricsHook interface {
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, bytes int)
}

// NoopMetrics discards observations.
type NoopMetrics struct{}

func (NoopMetrics) ObserveRead(time.Duration, int)        {}
func (NoopMetrics) ObserveBatchCommit(time.Duration, int) {}

// Counters is a MetricsHook that accumulates totals.
type Counters struct {
	Reads, ReadBytes     atomic.Uint64
	Commits, CommitBytes atomic.Uint64
}

func (c *Counters) ObserveRead(_ time.Duration, n int) {
	c.Reads.Add(1)
	c.ReadBytes.Add(uint64(n))
}

func (c *Counters) ObserveBatchCommit(_ time.Duration, n int) {
	c.Commits.Add(1)
	c.CommitBytes.Add(uint64(n))
}

// DB wraps a Pebble database with an fsync policy and helpers.
type DB struct {
	inner     *pebble.DB
	writeSync bool
	metrics   MetricsHook
}

// Open creates or opens a database.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	switch opts.Fsync {
	case FsyncModeAlways, FsyncModeNever:
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return opts.FsyncInterval }
	default:
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}
	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, errors.Wrapf(err, "pebble: open %s", opts.DataDir)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &DB{inner: inner, writeSync: opts.Fsync == FsyncModeAlways, metrics: metrics}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// NewBatch creates a batch for atomic multi-key updates.
func (db *DB) NewBatch() *pebble.Batch { return db.inner.NewBatch() }

// CommitBatch commits b with the configured fsync policy.
func (db *DB) CommitBatch(ctx context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebble: nil batch")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	size := b.Len()
	defer func() { db.metrics.ObserveBatchCommit(time.Since(start), size) }()
	opt := pebble.NoSync
	if db.writeSync {
		opt = pebble.Sync
	}
	return b.Commit(opt)
}

// Set writes one key.
func (db *DB) Set(key, value []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Set(key, value, nil); err != nil {
		return err
	}
	return db.CommitBatch(context.Background(), b)
}

// Delete removes one key.
func (db *DB) Delete(key []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.Delete(key, nil); err != nil {
		return err
	}
	return db.CommitBatch(context.Background(), b)
}

// DeleteRange removes keys in [start, end).
func (db *DB) DeleteRange(ctx context.Context, start, end []byte) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(start, end, nil); err != nil {
		return err
	}
	return db.CommitBatch(ctx, b)
}

// Get copies the value of key; missing keys return ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	buf := append([]byte(nil), val...)
	db.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}

// Scan calls fn for every key in [lower, upper) in order. The slices are only
// valid during the call. Returning an error stops the scan.
func (db *DB) Scan(lower, upper []byte, fn func(key, value []byte) error) error {
	it, err := db.inner.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer it.Close()
	start := time.Now()
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		v := it.Value()
		n += len(v)
		if err := fn(it.Key(), v); err != nil {
			return err
		}
	}
	db.metrics.ObserveRead(time.Since(start), n)
	return it.Error()
}

// Last returns the last key and value in [lower, upper).
func (db *DB) Last(lower, upper []byte) (key, value []byte, ok bool, err error) {
	it, err := db.inner.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, nil, false, err
	}
	defer it.Close()
	if !it.Last() {
		return nil, nil, false, it.Error()
	}
	return append([]byte(nil), it.Key()...), append([]byte(nil), it.Value()...), true, nil
}

// Flush forces memtables to disk; used before taking directory backups.
func (db *DB) Flush() error { return db.inner.Flush() }
