package history

import "github.com/rzbill/rtps/internal/cache"

// Kind selects the behaviour when a limit is reached.
type Kind int

const (
	// KeepLast evicts the oldest change (of the instance) to make room.
	KeepLast Kind = iota
	// KeepAll rejects the new change with errs.ErrResourceExhausted.
	KeepAll
)

func (k Kind) String() string {
	if k == KeepAll {
		return "keep-all"
	}
	return "keep-last"
}

// Attributes bound a history and size the pools derived from it.
type Attributes struct {
	Kind Kind
	// Depth is the per-instance depth for KeepLast.
	Depth int
	// MaxSamples bounds the whole history; zero means unbounded.
	MaxSamples int
	// MaxSamplesPerInstance bounds keyed instances under KeepAll; zero means unbounded.
	MaxSamplesPerInstance int
	// InitialSamples is preallocated in the change and payload pools.
	InitialSamples int
	PayloadMaxSize uint32
	MemoryPolicy   cache.MemoryPolicy
}

// DefaultAttributes is a keep-last(1) history with growing payloads.
func DefaultAttributes() Attributes {
	return Attributes{
		Kind:           KeepLast,
		Depth:          1,
		MaxSamples:     5000,
		InitialSamples: 100,
		PayloadMaxSize: 512,
		MemoryPolicy:   cache.PreallocatedWithRealloc,
	}
}

// PoolConfig derives pool sizing. One slot beyond MaxSamples is reserved so
// a KeepLast writer can build the next change before the oldest is evicted.
func (a Attributes) PoolConfig() cache.PoolConfig {
	cfg := cache.PoolConfig{
		Policy:         a.MemoryPolicy,
		PayloadMaxSize: a.PayloadMaxSize,
		Initial:        a.InitialSamples,
	}
	if a.MaxSamples > 0 {
		cfg.Maximum = a.MaxSamples + 1
	}
	return cfg
}

func (a Attributes) instanceLimit() int {
	if a.Kind == KeepLast {
		return a.Depth
	}
	return a.MaxSamplesPerInstance
}
