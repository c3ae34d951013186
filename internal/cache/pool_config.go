package cache

// MemoryPolicy selects how payload buffers are managed.
type MemoryPolicy int

const (
	// Preallocated pre-sizes every buffer to PayloadMaxSize and never grows.
	Preallocated MemoryPolicy = iota
	// PreallocatedWithRealloc reuses buffers and grows them on demand.
	PreallocatedWithRealloc
	// Dynamic allocates exactly the requested size on every Get.
	Dynamic
)

func (m MemoryPolicy) String() string {
	switch m {
	case Preallocated:
		return "preallocated"
	case PreallocatedWithRealloc:
		return "preallocated-realloc"
	case Dynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// ParseMemoryPolicy maps a configuration name to a MemoryPolicy.
func ParseMemoryPolicy(s string) (MemoryPolicy, bool) {
	switch s {
	case "preallocated", "fixed":
		return Preallocated, true
	case "preallocated-realloc", "growth", "":
		return PreallocatedWithRealloc, true
	case "dynamic":
		return Dynamic, true
	}
	return 0, false
}

// PoolConfig sizes both pools.
type PoolConfig struct {
	Policy MemoryPolicy
	// PayloadMaxSize is the buffer size for Preallocated and the initial size
	// for PreallocatedWithRealloc.
	PayloadMaxSize uint32
	// Initial is the number of slots/buffers allocated up front.
	Initial int
	// Maximum bounds outstanding slots/buffers; zero means unbounded.
	Maximum int
}
