package cache

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rzbill/rtps/internal/errs"
)

// ErrNotOwned is returned when releasing a change or payload to a pool that
// did not issue it, or releasing it twice.
var ErrNotOwned = errors.Mark(errors.New("cache: not issued by this pool"), errs.ErrInvalidPrecondition)

type changeSlot struct {
	change *Change
	inUse  bool
}

// ChangePool is a bounded arena of change slots. Slots are addressed by
// index; a released slot is reset and handed out again by a later Reserve.
type ChangePool struct {
	mu      sync.Mutex
	slots   []changeSlot
	free    []uint32
	maximum int
}

// NewChangePool preallocates cfg.Initial slots. cfg.Maximum bounds the arena;
// zero leaves it unbounded.
func NewChangePool(cfg PoolConfig) *ChangePool {
	initial := cfg.Initial
	if cfg.Maximum > 0 && initial > cfg.Maximum {
		initial = cfg.Maximum
	}
	p := &ChangePool{maximum: cfg.Maximum}
	p.slots = make([]changeSlot, 0, initial)
	p.free = make([]uint32, 0, initial)
	for i := 0; i < initial; i++ {
		p.slots = append(p.slots, changeSlot{change: &Change{pool: p, slot: uint32(i)}})
		p.free = append(p.free, uint32(initial-1-i))
	}
	return p
}

// Reserve hands out a free slot, growing the arena up to its maximum.
func (p *ChangePool) Reserve() (*Change, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var idx uint32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		if p.maximum > 0 && len(p.slots) >= p.maximum {
			return nil, errs.Exhausted("change pool: %d slots in use", len(p.slots))
		}
		idx = uint32(len(p.slots))
		p.slots = append(p.slots, changeSlot{change: &Change{pool: p, slot: idx}})
	}
	p.slots[idx].inUse = true
	c := p.slots[idx].change
	c.reset()
	return c, nil
}

// Release returns c to the pool. It fails only for changes this pool did not
// issue or that were already released.
func (p *ChangePool) Release(c *Change) error {
	if c == nil || c.pool != p {
		return ErrNotOwned
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(c.slot) >= len(p.slots) {
		return ErrNotOwned
	}
	s := &p.slots[c.slot]
	if s.change != c || !s.inUse {
		return ErrNotOwned
	}
	s.inUse = false
	c.reset()
	p.free = append(p.free, c.slot)
	return nil
}

// Owns reports whether c was issued by p and is currently reserved.
func (p *ChangePool) Owns(c *Change) bool {
	if c == nil || c.pool != p {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(c.slot) < len(p.slots) && p.slots[c.slot].inUse && p.slots[c.slot].change == c
}

// InUse returns the number of reserved slots.
func (p *ChangePool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - len(p.free)
}

// Capacity returns the number of allocated slots (free or in use).
func (p *ChangePool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
