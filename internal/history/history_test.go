package history

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/pkg/guid"
)

type recordingOwner struct {
	removed  []cache.SequenceNumber
	released int
}

func (o *recordingOwner) ChangeRemoved(c *cache.Change) {
	o.removed = append(o.removed, c.SequenceNumber)
}

func (o *recordingOwner) ReleaseChange(c *cache.Change) error {
	o.released++
	return nil
}

var testWriter = guid.New(guid.Prefix{1, 2, 3}, guid.EntityID{0, 0, 1, 0x02})

func newChange(inst byte) *cache.Change {
	c := &cache.Change{WriterGUID: testWriter}
	if inst != 0 {
		c.InstanceHandle[0] = inst
	}
	return c
}

func TestAddAssignsIncreasingSequenceNumbers(t *testing.T) {
	h := New(testWriter, Attributes{Kind: KeepAll})
	for i := 1; i <= 5; i++ {
		if h.NextSequenceNumber() != cache.SequenceNumber(i) {
			t.Fatalf("next seq = %d, want %d", h.NextSequenceNumber(), i)
		}
		c := newChange(0)
		if err := h.Add(c); err != nil {
			t.Fatalf("add: %v", err)
		}
		if c.SequenceNumber != cache.SequenceNumber(i) {
			t.Fatalf("seq = %d, want %d", c.SequenceNumber, i)
		}
	}
	min, _ := h.Min()
	max, _ := h.Max()
	if min.SequenceNumber != 1 || max.SequenceNumber != 5 {
		t.Fatalf("min/max = %d/%d", min.SequenceNumber, max.SequenceNumber)
	}
}

func TestSequenceNumbersNeverReused(t *testing.T) {
	o := &recordingOwner{}
	h := New(testWriter, Attributes{Kind: KeepAll})
	h.SetOwner(o)
	for i := 0; i < 3; i++ {
		_ = h.Add(newChange(0))
	}
	h.Clear()
	c := newChange(0)
	if err := h.Add(c); err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.SequenceNumber != 4 {
		t.Fatalf("seq after clear = %d, want 4", c.SequenceNumber)
	}
	if o.released != 3 {
		t.Fatalf("released = %d", o.released)
	}
}

func TestAddRejectsForeignChange(t *testing.T) {
	h := New(testWriter, Attributes{Kind: KeepAll})
	other := &cache.Change{WriterGUID: guid.New(guid.Prefix{9}, guid.EntityID{0, 0, 2, 0x02})}
	if err := h.Add(other); !errors.Is(err, errs.ErrInvalidPrecondition) {
		t.Fatalf("want precondition, got %v", err)
	}
	if err := h.Add(nil); !errors.Is(err, errs.ErrInvalidPrecondition) {
		t.Fatalf("want precondition for nil, got %v", err)
	}
}

func TestKeepAllLimits(t *testing.T) {
	tests := []struct {
		name string
		attr Attributes
		adds []byte
	}{
		{"max samples", Attributes{Kind: KeepAll, MaxSamples: 2}, []byte{0, 0, 0}},
		{"per instance", Attributes{Kind: KeepAll, MaxSamplesPerInstance: 2}, []byte{1, 2, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(testWriter, tt.attr)
			var err error
			for _, inst := range tt.adds {
				err = h.Add(newChange(inst))
			}
			if !errors.Is(err, errs.ErrResourceExhausted) {
				t.Fatalf("want exhausted, got %v", err)
			}
			if h.NextSequenceNumber() != cache.SequenceNumber(len(tt.adds)) {
				t.Fatalf("rejected add consumed a sequence number: next=%d", h.NextSequenceNumber())
			}
		})
	}
}

func TestKeepLastEvictsOldestOfInstance(t *testing.T) {
	o := &recordingOwner{}
	h := New(testWriter, Attributes{Kind: KeepLast, Depth: 2})
	h.SetOwner(o)
	for _, inst := range []byte{1, 2, 1, 1} {
		if err := h.Add(newChange(inst)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if len(o.removed) != 1 || o.removed[0] != 1 {
		t.Fatalf("removed = %v, want [1]", o.removed)
	}
	if h.Size() != 3 {
		t.Fatalf("size = %d", h.Size())
	}
	if _, ok := h.Get(2); !ok {
		t.Fatalf("instance 2 sample should remain")
	}
}

func TestKeepLastMaxSamples(t *testing.T) {
	o := &recordingOwner{}
	h := New(testWriter, Attributes{Kind: KeepLast, Depth: 10, MaxSamples: 2})
	h.SetOwner(o)
	for _, inst := range []byte{1, 2, 3} {
		if err := h.Add(newChange(inst)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	min, _ := h.Min()
	if min.SequenceNumber != 2 || h.Size() != 2 {
		t.Fatalf("min=%d size=%d", min.SequenceNumber, h.Size())
	}
}

func TestRemoveOlderThan(t *testing.T) {
	o := &recordingOwner{}
	h := New(testWriter, Attributes{Kind: KeepAll})
	h.SetOwner(o)
	for i := 0; i < 5; i++ {
		_ = h.Add(newChange(0))
	}
	if !h.RemoveOlderThan(2) {
		t.Fatalf("expected removal")
	}
	if h.RemoveOlderThan(2) {
		t.Fatalf("second call should be a no-op")
	}
	if got := o.removed; len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("removed = %v", got)
	}
	if !h.Remove(5) || h.Remove(5) {
		t.Fatalf("remove by sequence")
	}
	if h.Size() != 1 {
		t.Fatalf("size = %d", h.Size())
	}
}

func TestRestore(t *testing.T) {
	h := New(testWriter, Attributes{Kind: KeepAll})
	c := newChange(0)
	c.SequenceNumber = 7
	if err := h.Restore(c); err != nil {
		t.Fatalf("restore: %v", err)
	}
	old := newChange(0)
	old.SequenceNumber = 3
	if err := h.Restore(old); !errors.Is(err, errs.ErrInvalidPrecondition) {
		t.Fatalf("want precondition, got %v", err)
	}
	if h.NextSequenceNumber() != 8 {
		t.Fatalf("next = %d", h.NextSequenceNumber())
	}
	h.SetNextSequenceNumber(4)
	if h.NextSequenceNumber() != 8 {
		t.Fatalf("counter moved back")
	}
}

func TestPoolConfigReservesSpareSlot(t *testing.T) {
	cfg := Attributes{MaxSamples: 10, PayloadMaxSize: 64}.PoolConfig()
	if cfg.Maximum != 11 || cfg.PayloadMaxSize != 64 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if (Attributes{}).PoolConfig().Maximum != 0 {
		t.Fatalf("unbounded history should give unbounded pool")
	}
}
