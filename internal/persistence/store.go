package persistence

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rzbill/rtps/internal/cache"
	pebblestore "github.com/rzbill/rtps/internal/storage/pebble"
	"github.com/rzbill/rtps/pkg/guid"
	"github.com/rzbill/rtps/pkg/log"
)

// ErrCorrupt reports a record that failed its checksum or header decode.
var ErrCorrupt = errors.New("persistence: corrupt record")

const (
	codecNone uint8 = iota
	codecZstd
)

// header is the msgpack-encoded record header.
type header struct {
	Kind         uint8  `msgpack:"k"`
	Instance     []byte `msgpack:"i,omitempty"`
	FragmentSize uint16 `msgpack:"f,omitempty"`
	Timestamp    int64  `msgpack:"t,omitempty"`
	Codec        uint8  `msgpack:"c,omitempty"`
	Length       uint32 `msgpack:"n"`
}

// Record is a change as stored.
type Record struct {
	Sequence       cache.SequenceNumber
	Kind           cache.Kind
	InstanceHandle cache.InstanceHandle
	FragmentSize   uint16
	Timestamp      time.Time
	Payload        []byte
}

// Options configure a Store.
type Options struct {
	// CompressThreshold is the payload size from which zstd is applied; zero
	// disables compression.
	CompressThreshold int
	Logger            log.Logger
}

// Store persists writer histories.
type Store struct {
	db        *pebblestore.DB
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
	logger    log.Logger
}

// New wraps an open database.
func New(db *pebblestore.DB, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	s := &Store{db: db, threshold: opts.CompressThreshold, logger: opts.Logger.WithComponent("persistence")}
	var err error
	if s.threshold > 0 {
		if s.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest)); err != nil {
			return nil, errors.Wrap(err, "persistence: zstd encoder")
		}
	}
	if s.dec, err = zstd.NewReader(nil); err != nil {
		return nil, errors.Wrap(err, "persistence: zstd decoder")
	}
	return s, nil
}

// Close releases the codecs. The database is owned by the caller.
func (s *Store) Close() error {
	if s.enc != nil {
		_ = s.enc.Close()
	}
	s.dec.Close()
	return nil
}

// Append stores c and advances the writer's last sequence number in one
// batch.
func (s *Store) Append(ctx context.Context, c *cache.Change) error {
	val, err := s.encode(c)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(KeyEntry(c.WriterGUID, uint64(c.SequenceNumber)), val, nil); err != nil {
		return err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], uint64(c.SequenceNumber))
	if err := b.Set(KeyMeta(c.WriterGUID), meta[:], nil); err != nil {
		return err
	}
	return errors.Wrapf(s.db.CommitBatch(ctx, b), "persistence: append %s/%d", c.WriterGUID, c.SequenceNumber)
}

// Remove deletes one record. The last sequence number is kept so numbers
// are never reused.
func (s *Store) Remove(ctx context.Context, w guid.GUID, seq cache.SequenceNumber) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(KeyEntry(w, uint64(seq)), nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// RemoveBelow deletes every record with a sequence number below seq.
func (s *Store) RemoveBelow(ctx context.Context, w guid.GUID, seq cache.SequenceNumber) error {
	lower, _ := entryBounds(w)
	return s.db.DeleteRange(ctx, lower, KeyEntry(w, uint64(seq)))
}

// Drop deletes everything stored for a writer.
func (s *Store) Drop(ctx context.Context, w guid.GUID) error {
	lower, upper := writerBounds(w)
	return s.db.DeleteRange(ctx, lower, upper)
}

// LastSequence returns the highest sequence number ever appended for w.
func (s *Store) LastSequence(w guid.GUID) (cache.SequenceNumber, error) {
	v, err := s.db.Get(KeyMeta(w))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return cache.SequenceNumberUnknown, nil
	}
	if err != nil {
		return cache.SequenceNumberUnknown, err
	}
	if len(v) < 8 {
		return cache.SequenceNumberUnknown, ErrCorrupt
	}
	return cache.SequenceNumber(binary.BigEndian.Uint64(v)), nil
}

// Load calls fn for each stored record of w in sequence order. Corrupt
// records are skipped and logged.
func (s *Store) Load(w guid.GUID, fn func(Record) error) error {
	lower, upper := entryBounds(w)
	return s.db.Scan(lower, upper, func(k, v []byte) error {
		rec, err := s.decode(v)
		if err != nil {
			s.logger.Warn("skipping stored change", log.Stringer(log.WriterKey, w), log.Uint64("seq", seqFromKey(k)), log.Err(err))
			return nil
		}
		rec.Sequence = cache.SequenceNumber(seqFromKey(k))
		return fn(rec)
	})
}

// Count returns the number of stored records of w.
func (s *Store) Count(w guid.GUID) (int, error) {
	n := 0
	lower, upper := entryBounds(w)
	err := s.db.Scan(lower, upper, func(_, _ []byte) error { n++; return nil })
	return n, err
}

func (s *Store) encode(c *cache.Change) ([]byte, error) {
	payload := c.Payload.Bytes()
	h := header{
		Kind:         uint8(c.Kind),
		FragmentSize: c.FragmentSize(),
		Length:       uint32(len(payload)),
	}
	if c.InstanceHandle.IsDefined() {
		h.Instance = c.InstanceHandle[:]
	}
	if !c.SourceTimestamp.IsZero() {
		h.Timestamp = c.SourceTimestamp.UnixNano()
	}
	if s.enc != nil && len(payload) >= s.threshold {
		payload = s.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
		h.Codec = codecZstd
	}
	hb, err := msgpack.Marshal(&h)
	if err != nil {
		return nil, errors.Wrap(err, "persistence: encode header")
	}
	return EncodeRecord(hb, payload), nil
}

func (s *Store) decode(v []byte) (Record, error) {
	hb, payload, ok := DecodeRecord(v)
	if !ok {
		return Record{}, ErrCorrupt
	}
	var h header
	if err := msgpack.Unmarshal(hb, &h); err != nil {
		return Record{}, errors.Mark(errors.Wrap(err, "header"), ErrCorrupt)
	}
	rec := Record{Kind: cache.Kind(h.Kind), FragmentSize: h.FragmentSize}
	copy(rec.InstanceHandle[:], h.Instance)
	if h.Timestamp != 0 {
		rec.Timestamp = time.Unix(0, h.Timestamp)
	}
	switch h.Codec {
	case codecNone:
		rec.Payload = append([]byte(nil), payload...)
	case codecZstd:
		out, err := s.dec.DecodeAll(payload, make([]byte, 0, h.Length))
		if err != nil {
			return Record{}, errors.Mark(errors.Wrap(err, "zstd"), ErrCorrupt)
		}
		rec.Payload = out
	default:
		return Record{}, errors.Mark(errors.Newf("unknown codec %d", h.Codec), ErrCorrupt)
	}
	if uint32(len(rec.Payload)) != h.Length {
		return Record{}, errors.Mark(errors.Newf("length %d, header says %d", len(rec.Payload), h.Length), ErrCorrupt)
	}
	return rec, nil
}
