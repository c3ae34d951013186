package message

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/pkg/guid"
)

type capture struct{ msgs [][]byte }

func (c *capture) Send(_ context.Context, msg []byte) error {
	c.msgs = append(c.msgs, append([]byte(nil), msg...))
	return nil
}

var writerGUID = guid.New(guid.Prefix{0x01, 0x0f, 7}, guid.EntityID{0, 0, 1, 0x03})

func change(seq uint64, data []byte) *cache.Change {
	c := &cache.Change{
		WriterGUID:     writerGUID,
		SequenceNumber: cache.SequenceNumber(seq),
		Payload:        cache.Payload{Data: data, Length: uint32(len(data))},
	}
	return c
}

func TestDataRoundTrip(t *testing.T) {
	out := &capture{}
	g := NewGroup(writerGUID.Prefix, out, 0, time.Time{})
	c := change(1<<33+5, []byte("hello"))
	c.SourceTimestamp = time.Unix(1700000000, 500_000_000)
	if err := g.AddData(context.Background(), c, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := g.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(out.msgs) != 1 {
		t.Fatalf("messages = %d", len(out.msgs))
	}
	if len(out.msgs[0])%4 != 0 {
		t.Fatalf("message not 4-byte aligned: %d", len(out.msgs[0]))
	}
	m, err := Decode(out.msgs[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Prefix != writerGUID.Prefix || len(m.Submessages) != 1 {
		t.Fatalf("decoded %+v", m)
	}
	s := m.Submessages[0]
	if s.ID != IDData || s.Sequence != c.SequenceNumber || !bytes.Equal(s.Payload, []byte("hello")) {
		t.Fatalf("submessage %+v", s)
	}
	if m.WriterGUID(s) != writerGUID {
		t.Fatalf("writer guid %s", m.WriterGUID(s))
	}
	if d := s.Timestamp.Sub(c.SourceTimestamp); d > time.Microsecond || d < -time.Microsecond {
		t.Fatalf("timestamp %v vs %v", s.Timestamp, c.SourceTimestamp)
	}
}

func TestDisposeCarriesInlineQos(t *testing.T) {
	out := &capture{}
	g := NewGroup(writerGUID.Prefix, out, 0, time.Time{})
	c := change(2, nil)
	c.Kind = cache.KindNotAliveDisposed
	c.InstanceHandle[0] = 0xAA
	if err := g.AddData(context.Background(), c, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	_ = g.Flush(context.Background())
	m, err := Decode(out.msgs[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	s := m.Submessages[0]
	if s.Kind != cache.KindNotAliveDisposed || s.InstanceHandle != c.InstanceHandle {
		t.Fatalf("inline qos lost: %+v", s)
	}
	if len(s.Payload) != 0 {
		t.Fatalf("unexpected payload %v", s.Payload)
	}
}

func TestFragmentsReassemble(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 25)
	c := change(3, data)
	c.SetFragmentSize(64)
	if c.FragmentCount() != 4 {
		t.Fatalf("fragments = %d", c.FragmentCount())
	}
	out := &capture{}
	g := NewGroup(writerGUID.Prefix, out, 0, time.Time{})
	for n := uint32(1); n <= c.FragmentCount(); n++ {
		if err := g.AddDataFrag(context.Background(), c, n, true); err != nil {
			t.Fatalf("frag %d: %v", n, err)
		}
	}
	_ = g.Flush(context.Background())
	m, err := Decode(out.msgs[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var got []byte
	for _, s := range m.Submessages {
		if s.ID != IDDataFrag || s.SampleSize != uint32(len(data)) {
			t.Fatalf("bad frag %+v", s)
		}
		got = append(got, s.Payload...)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("reassembled payload differs")
	}
	if err := g.AddDataFrag(context.Background(), c, 5, false); !errors.Is(err, errs.ErrInvalidPrecondition) {
		t.Fatalf("out of range fragment: %v", err)
	}
}

func TestGroupFlushesAtMaxSize(t *testing.T) {
	out := &capture{}
	g := NewGroup(writerGUID.Prefix, out, 128, time.Time{})
	for i := 1; i <= 5; i++ {
		if err := g.AddData(context.Background(), change(uint64(i), bytes.Repeat([]byte{1}, 40)), false); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	_ = g.Flush(context.Background())
	if len(out.msgs) < 3 {
		t.Fatalf("messages = %d, want at least 3", len(out.msgs))
	}
	total := 0
	for _, msg := range out.msgs {
		if len(msg) > 128 {
			t.Fatalf("message of %d bytes exceeds cap", len(msg))
		}
		m, err := Decode(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		total += len(m.Submessages)
	}
	if total != 5 {
		t.Fatalf("submessages = %d", total)
	}
	if n, _ := g.Sent(); n != len(out.msgs) {
		t.Fatalf("sent counter %d", n)
	}
}

func TestOversizedSubmessageRejected(t *testing.T) {
	out := &capture{}
	g := NewGroup(writerGUID.Prefix, out, 0, time.Time{})
	c := change(7, bytes.Repeat([]byte{7}, 70000))
	if err := g.AddData(context.Background(), c, false); !errors.Is(err, errs.ErrInvalidPrecondition) {
		t.Fatalf("70000 byte payload: %v", err)
	}
	small := NewGroup(writerGUID.Prefix, out, 256, time.Time{})
	if err := small.AddData(context.Background(), change(8, make([]byte, 300)), false); !errors.Is(err, errs.ErrInvalidPrecondition) {
		t.Fatalf("payload over max message size: %v", err)
	}
	if small.Pending() || g.Pending() || len(out.msgs) != 0 {
		t.Fatalf("rejected submessage was buffered")
	}
}

func TestMaxFragmentSizeFits(t *testing.T) {
	for _, limit := range []int{256, 1400, DefaultMaxMessageSize, 1 << 20} {
		size := MaxFragmentSize(limit)
		data := bytes.Repeat([]byte("x"), int(size)*3+1)
		c := change(9, data)
		c.Kind = cache.KindNotAliveDisposed
		c.InstanceHandle[0] = 1
		c.SourceTimestamp = time.Unix(1700000000, 0)
		c.SetFragmentSize(size)
		out := &capture{}
		g := NewGroup(writerGUID.Prefix, out, limit, time.Time{})
		for n := uint32(1); n <= c.FragmentCount(); n++ {
			if err := g.AddDataFrag(context.Background(), c, n, true); err != nil {
				t.Fatalf("limit %d frag %d: %v", limit, n, err)
			}
		}
		_ = g.Flush(context.Background())
		var got []byte
		for _, msg := range out.msgs {
			if len(msg) > limit {
				t.Fatalf("limit %d: message of %d bytes", limit, len(msg))
			}
			m, err := Decode(msg)
			if err != nil {
				t.Fatalf("limit %d: decode: %v", limit, err)
			}
			for _, s := range m.Submessages {
				if s.ID == IDDataFrag {
					got = append(got, s.Payload...)
				}
			}
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("limit %d: reassembled %d of %d bytes", limit, len(got), len(data))
		}
	}
}

func TestDeadlineExceeded(t *testing.T) {
	out := &capture{}
	g := NewGroup(writerGUID.Prefix, out, 0, time.Now().Add(-time.Millisecond))
	err := g.AddData(context.Background(), change(1, []byte("x")), false)
	if !errors.Is(err, errs.ErrDeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}

	slow := DestinationFunc(func(ctx context.Context, _ []byte) error {
		<-ctx.Done()
		return ctx.Err()
	})
	g = NewGroup(writerGUID.Prefix, slow, 0, time.Now().Add(10*time.Millisecond))
	if err := g.AddData(context.Background(), change(1, []byte("x")), false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := g.Flush(context.Background()); !errors.Is(err, errs.ErrDeadlineExceeded) {
		t.Fatalf("flush: want deadline exceeded, got %v", err)
	}
	if g.Pending() {
		t.Fatalf("buffer kept after failed flush")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, b := range [][]byte{nil, []byte("RTPX0000000000000000"), append(appendHeader(nil, guid.Prefix{}), IDData, 1, 0xff, 0)} {
		if _, err := Decode(b); !errors.Is(err, ErrMalformed) {
			t.Fatalf("decode %x: %v", b, err)
		}
	}
}
