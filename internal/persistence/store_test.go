package persistence

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/rtps/internal/cache"
	pebblestore "github.com/rzbill/rtps/internal/storage/pebble"
	"github.com/rzbill/rtps/pkg/guid"
)

func openStore(t *testing.T, threshold int) (*Store, *pebblestore.DB) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s, err := New(db, Options{CompressThreshold: threshold})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
		_ = db.Close()
	})
	return s, db
}

var w1 = guid.New(guid.Prefix{1, 15, 1}, guid.EntityID{0, 0, 1, 0x02})
var w2 = guid.New(guid.Prefix{1, 15, 2}, guid.EntityID{0, 0, 1, 0x02})

func change(w guid.GUID, seq uint64, data []byte) *cache.Change {
	return &cache.Change{
		WriterGUID:      w,
		SequenceNumber:  cache.SequenceNumber(seq),
		SourceTimestamp: time.Unix(1700000000, int64(seq)),
		Payload:         cache.Payload{Data: data, Length: uint32(len(data))},
	}
}

func TestAppendLoadRoundTrip(t *testing.T) {
	s, _ := openStore(t, 64)
	ctx := context.Background()
	big := bytes.Repeat([]byte("compressible "), 100)
	c1 := change(w1, 1, []byte("small"))
	c2 := change(w1, 2, big)
	c2.Kind = cache.KindNotAliveDisposed
	c2.InstanceHandle[3] = 7
	c2.SetFragmentSize(256)
	for _, c := range []*cache.Change{c1, c2, change(w2, 1, []byte("other"))} {
		if err := s.Append(ctx, c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var got []Record
	if err := s.Load(w1, func(r Record) error { got = append(got, r); return nil }); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d records", len(got))
	}
	if got[0].Sequence != 1 || string(got[0].Payload) != "small" {
		t.Fatalf("rec0 %+v", got[0])
	}
	r := got[1]
	if r.Sequence != 2 || !bytes.Equal(r.Payload, big) || r.Kind != cache.KindNotAliveDisposed ||
		r.InstanceHandle != c2.InstanceHandle || r.FragmentSize != 256 || !r.Timestamp.Equal(c2.SourceTimestamp) {
		t.Fatalf("rec1 %+v", r)
	}
	if last, _ := s.LastSequence(w1); last != 2 {
		t.Fatalf("last = %d", last)
	}
}

func TestRemoveKeepsLastSequence(t *testing.T) {
	s, _ := openStore(t, 0)
	ctx := context.Background()
	for i := uint64(1); i <= 5; i++ {
		_ = s.Append(ctx, change(w1, i, []byte{byte(i)}))
	}
	if err := s.RemoveBelow(ctx, w1, 3); err != nil {
		t.Fatalf("remove below: %v", err)
	}
	if err := s.Remove(ctx, w1, 5); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n, _ := s.Count(w1); n != 2 {
		t.Fatalf("count = %d", n)
	}
	if last, _ := s.LastSequence(w1); last != 5 {
		t.Fatalf("last = %d after removals", last)
	}
	if err := s.Drop(ctx, w1); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if last, _ := s.LastSequence(w1); last != cache.SequenceNumberUnknown {
		t.Fatalf("last after drop = %d", last)
	}
}

func TestCorruptRecordSkipped(t *testing.T) {
	s, db := openStore(t, 0)
	ctx := context.Background()
	_ = s.Append(ctx, change(w1, 1, []byte("ok")))
	if err := db.Set(KeyEntry(w1, 2), []byte{3, 1, 2, 3, 0, 0, 0, 0}); err != nil {
		t.Fatalf("set: %v", err)
	}
	n := 0
	if err := s.Load(w1, func(Record) error { n++; return nil }); err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 1 {
		t.Fatalf("loaded %d", n)
	}
	if _, err := s.decode([]byte{0, 0, 0, 0, 0}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("want corrupt, got %v", err)
	}
}

func TestRecordFraming(t *testing.T) {
	rec := EncodeRecord([]byte("hdr"), []byte("payload"))
	h, p, ok := DecodeRecord(rec)
	if !ok || string(h) != "hdr" || string(p) != "payload" {
		t.Fatalf("decode: %q %q %v", h, p, ok)
	}
	rec[len(rec)-1] ^= 0xff
	if _, _, ok := DecodeRecord(rec); ok {
		t.Fatalf("checksum mismatch not detected")
	}
}
