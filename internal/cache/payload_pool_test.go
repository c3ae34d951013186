package cache

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/rzbill/rtps/internal/errs"
)

func reserve(t *testing.T, p *ChangePool) *Change {
	t.Helper()
	c, err := p.Reserve()
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return c
}

func TestFixedPoolNeverGrows(t *testing.T) {
	changes := NewChangePool(PoolConfig{Initial: 2})
	pl := NewFixedPayloadPool(16, 1, 0)
	c := reserve(t, changes)
	if err := pl.Get(32, c); !errors.Is(err, errs.ErrResourceExhausted) {
		t.Fatalf("oversize get: want exhausted, got %v", err)
	}
	if err := pl.Get(8, c); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(c.Payload.Data) != 16 {
		t.Fatalf("fixed buffer len = %d", len(c.Payload.Data))
	}
	if err := pl.Resize(c, 17); !errors.Is(err, errs.ErrResourceExhausted) {
		t.Fatalf("resize past max: want exhausted, got %v", err)
	}
}

func TestGrowingPoolPreservesContents(t *testing.T) {
	changes := NewChangePool(PoolConfig{Initial: 1})
	pl := NewGrowingPayloadPool(4, 1, 0)
	c := reserve(t, changes)
	if err := pl.Get(4, c); err != nil {
		t.Fatalf("get: %v", err)
	}
	c.SetData([]byte("abcd"))
	if err := pl.Resize(c, 10); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if len(c.Payload.Data) != 10 || string(c.Payload.Bytes()) != "abcd" {
		t.Fatalf("contents lost: len=%d %q", len(c.Payload.Data), c.Payload.Bytes())
	}
	if err := pl.Release(c); err != nil {
		t.Fatalf("release: %v", err)
	}
	// the grown buffer is reused
	c2 := reserve(t, changes)
	if err := pl.Get(8, c2); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(c2.Payload.Data) < 8 {
		t.Fatalf("buffer too small: %d", len(c2.Payload.Data))
	}
}

func TestDynamicPoolExactSize(t *testing.T) {
	changes := NewChangePool(PoolConfig{Initial: 1})
	pl := NewDynamicPayloadPool(1)
	c := reserve(t, changes)
	if err := pl.Get(7, c); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(c.Payload.Data) != 7 {
		t.Fatalf("len = %d", len(c.Payload.Data))
	}
	c2 := reserve(t, changes)
	if err := pl.Get(1, c2); !errors.Is(err, errs.ErrResourceExhausted) {
		t.Fatalf("want exhausted at maximum, got %v", err)
	}
	if err := pl.Release(c); err != nil {
		t.Fatalf("release: %v", err)
	}
	if st := pl.Stats(); st.Outstanding != 0 || st.Free != 0 {
		t.Fatalf("dynamic pool should not cache: %+v", st)
	}
}

func TestPayloadReleaseValidatesOwner(t *testing.T) {
	changes := NewChangePool(PoolConfig{Initial: 1})
	a := NewDynamicPayloadPool(0)
	b := NewDynamicPayloadPool(0)
	c := reserve(t, changes)
	if err := a.Get(4, c); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := b.Release(c); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("want ErrNotOwned, got %v", err)
	}
	if c.Payload.Owner() != a {
		t.Fatalf("owner changed after failed release")
	}
	if err := a.Get(4, c); !errors.Is(err, errs.ErrInvalidPrecondition) {
		t.Fatalf("double get should fail, got %v", err)
	}
}

func TestDetachDropsCachedBuffers(t *testing.T) {
	pl := NewFixedPayloadPool(8, 4, 0)
	pl.Attach()
	pl.Attach()
	pl.Detach()
	if st := pl.Stats(); st.Free != 4 || st.Users != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	pl.Detach()
	if st := pl.Stats(); st.Free != 0 || st.Users != 0 {
		t.Fatalf("unexpected stats after last detach: %+v", st)
	}
}
