package cache

import (
	"time"

	"github.com/rzbill/rtps/pkg/guid"
)

// SequenceNumber orders changes of one writer. Zero means unknown; the first
// assigned number is 1.
type SequenceNumber uint64

// SequenceNumberUnknown is returned by queries on an empty history.
const SequenceNumberUnknown SequenceNumber = 0

// Kind is the change kind. Values match the wire encoding.
type Kind uint8

const (
	KindAlive Kind = iota
	KindNotAliveDisposed
	KindNotAliveUnregistered
	KindNotAliveDisposedUnregistered
)

func (k Kind) String() string {
	switch k {
	case KindAlive:
		return "ALIVE"
	case KindNotAliveDisposed:
		return "NOT_ALIVE_DISPOSED"
	case KindNotAliveUnregistered:
		return "NOT_ALIVE_UNREGISTERED"
	case KindNotAliveDisposedUnregistered:
		return "NOT_ALIVE_DISPOSED_UNREGISTERED"
	default:
		return "UNKNOWN"
	}
}

// InstanceHandle identifies the instance of a keyed topic.
type InstanceHandle [16]byte

// IsDefined reports whether h carries a key hash.
func (h InstanceHandle) IsDefined() bool { return h != InstanceHandle{} }

// Payload is a serialized sample buffer issued by a PayloadPool.
type Payload struct {
	Data   []byte
	Length uint32
	owner  PayloadPool
}

// Bytes returns the valid portion of the buffer.
func (p *Payload) Bytes() []byte { return p.Data[:p.Length] }

// Owner returns the pool the buffer must be released to.
func (p *Payload) Owner() PayloadPool { return p.owner }

// Change is one sample instance.
type Change struct {
	Kind            Kind
	WriterGUID      guid.GUID
	InstanceHandle  InstanceHandle
	SequenceNumber  SequenceNumber
	SourceTimestamp time.Time
	Payload         Payload

	fragmentSize  uint16
	fragmentCount uint32

	// pool bookkeeping
	pool *ChangePool
	slot uint32
}

// SetFragmentSize sets the fragment size and recomputes the fragment count.
// A size of zero, or a payload that fits in one fragment, means unfragmented.
func (c *Change) SetFragmentSize(size uint16) {
	c.fragmentSize = size
	c.fragmentCount = 0
	if size == 0 || c.Payload.Length <= uint32(size) {
		c.fragmentSize = 0
		return
	}
	c.fragmentCount = (c.Payload.Length + uint32(size) - 1) / uint32(size)
}

// FragmentSize returns the fragment size, zero when unfragmented.
func (c *Change) FragmentSize() uint16 { return c.fragmentSize }

// FragmentCount returns the number of fragments, zero when unfragmented.
func (c *Change) FragmentCount() uint32 { return c.fragmentCount }

// Fragment returns the bytes of fragment n (1-based).
func (c *Change) Fragment(n uint32) []byte {
	if c.fragmentCount == 0 || n == 0 || n > c.fragmentCount {
		return nil
	}
	start := (n - 1) * uint32(c.fragmentSize)
	end := start + uint32(c.fragmentSize)
	if end > c.Payload.Length {
		end = c.Payload.Length
	}
	return c.Payload.Data[start:end]
}

// SetData copies b into the payload buffer. The buffer must already be large
// enough (see PayloadPool.Resize).
func (c *Change) SetData(b []byte) bool {
	if len(b) > len(c.Payload.Data) {
		return false
	}
	c.Payload.Length = uint32(copy(c.Payload.Data, b))
	return true
}

func (c *Change) reset() {
	c.Kind = KindAlive
	c.WriterGUID = guid.Unknown
	c.InstanceHandle = InstanceHandle{}
	c.SequenceNumber = SequenceNumberUnknown
	c.SourceTimestamp = time.Time{}
	c.fragmentSize = 0
	c.fragmentCount = 0
}
