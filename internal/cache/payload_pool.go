package cache

import (
	"sync"

	"github.com/rzbill/rtps/internal/errs"
)

// PayloadPool issues the buffers backing change payloads. Implementations are
// safe for concurrent use and may be shared by several writers.
type PayloadPool interface {
	// Get attaches a buffer of at least size bytes to c.
	Get(size uint32, c *Change) error
	// Resize makes c's buffer at least size bytes long, preserving contents.
	Resize(c *Change, size uint32) error
	// Release returns c's buffer. The buffer must have been issued by this pool.
	Release(c *Change) error
	// Attach and Detach count the writers sharing the pool.
	Attach()
	Detach()
	Stats() PayloadStats
}

// PayloadStats is a point-in-time view of a payload pool.
type PayloadStats struct {
	Policy      MemoryPolicy
	Outstanding int
	Free        int
	Users       int
}

// NewPayloadPool builds a pool for cfg.Policy.
func NewPayloadPool(cfg PoolConfig) PayloadPool {
	p := &bufferPool{cfg: cfg}
	if cfg.Policy != Dynamic {
		n := cfg.Initial
		if cfg.Maximum > 0 && n > cfg.Maximum {
			n = cfg.Maximum
		}
		for i := 0; i < n; i++ {
			p.free = append(p.free, make([]byte, cfg.PayloadMaxSize))
		}
	}
	return p
}

// NewFixedPayloadPool returns a Preallocated pool of max-sized buffers.
func NewFixedPayloadPool(maxSize uint32, initial, maximum int) PayloadPool {
	return NewPayloadPool(PoolConfig{Policy: Preallocated, PayloadMaxSize: maxSize, Initial: initial, Maximum: maximum})
}

// NewGrowingPayloadPool returns a PreallocatedWithRealloc pool.
func NewGrowingPayloadPool(initialSize uint32, initial, maximum int) PayloadPool {
	return NewPayloadPool(PoolConfig{Policy: PreallocatedWithRealloc, PayloadMaxSize: initialSize, Initial: initial, Maximum: maximum})
}

// NewDynamicPayloadPool returns a pool allocating exact sizes.
func NewDynamicPayloadPool(maximum int) PayloadPool {
	return NewPayloadPool(PoolConfig{Policy: Dynamic, Maximum: maximum})
}

type bufferPool struct {
	mu          sync.Mutex
	cfg         PoolConfig
	free        [][]byte
	outstanding int
	users       int
}

func (p *bufferPool) Get(size uint32, c *Change) error {
	if c == nil {
		return errs.Precondition("payload pool: nil change")
	}
	if c.Payload.owner != nil {
		return errs.Precondition("payload pool: change already holds a payload")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.Maximum > 0 && p.outstanding >= p.cfg.Maximum {
		return errs.Exhausted("payload pool: %d buffers outstanding", p.outstanding)
	}
	var buf []byte
	switch p.cfg.Policy {
	case Preallocated:
		if size > p.cfg.PayloadMaxSize {
			return errs.Exhausted("payload pool: %d bytes exceeds fixed size %d", size, p.cfg.PayloadMaxSize)
		}
		buf = p.pop()
		if buf == nil {
			buf = make([]byte, p.cfg.PayloadMaxSize)
		}
	case PreallocatedWithRealloc:
		buf = p.pop()
		if buf == nil {
			buf = make([]byte, maxU32(size, p.cfg.PayloadMaxSize))
		}
		if uint32(len(buf)) < size {
			buf = grow(buf, size, 0)
		}
	default:
		buf = make([]byte, size)
	}
	p.outstanding++
	c.Payload = Payload{Data: buf, owner: p}
	return nil
}

func (p *bufferPool) Resize(c *Change, size uint32) error {
	if c == nil || c.Payload.owner != p {
		return ErrNotOwned
	}
	if uint32(len(c.Payload.Data)) >= size {
		return nil
	}
	if p.cfg.Policy == Preallocated {
		return errs.Exhausted("payload pool: %d bytes exceeds fixed size %d", size, p.cfg.PayloadMaxSize)
	}
	c.Payload.Data = grow(c.Payload.Data, size, c.Payload.Length)
	return nil
}

func (p *bufferPool) Release(c *Change) error {
	if c == nil || c.Payload.owner != p {
		return ErrNotOwned
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outstanding--
	if p.cfg.Policy != Dynamic {
		p.free = append(p.free, c.Payload.Data[:cap(c.Payload.Data)])
	}
	c.Payload = Payload{}
	return nil
}

func (p *bufferPool) Attach() {
	p.mu.Lock()
	p.users++
	p.mu.Unlock()
}

// Detach drops the cached buffers once the last user is gone. Buffers still
// held by changes are unaffected and return to the pool on Release.
func (p *bufferPool) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.users > 0 {
		p.users--
	}
	if p.users == 0 {
		p.free = nil
	}
}

func (p *bufferPool) Stats() PayloadStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PayloadStats{Policy: p.cfg.Policy, Outstanding: p.outstanding, Free: len(p.free), Users: p.users}
}

func (p *bufferPool) pop() []byte {
	n := len(p.free)
	if n == 0 {
		return nil
	}
	b := p.free[n-1]
	p.free = p.free[:n-1]
	return b
}

// grow returns a buffer of exactly size bytes carrying the first keep bytes of b.
func grow(b []byte, size, keep uint32) []byte {
	nb := make([]byte, size)
	copy(nb, b[:keep])
	return nb
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
