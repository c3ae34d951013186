package writer

import (
	"strings"
	"time"

	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/internal/flowcontrol"
	"github.com/rzbill/rtps/internal/history"
	"github.com/rzbill/rtps/internal/liveliness"
	"github.com/rzbill/rtps/internal/locator"
	"github.com/rzbill/rtps/internal/message"
	"github.com/rzbill/rtps/pkg/guid"
)

// Mode selects where delivery happens.
type Mode int

const (
	// Sync delivers inside AddChange on the caller's goroutine.
	Sync Mode = iota
	// Async queues the change and lets the shared sender drain it.
	Async
)

func (m Mode) String() string {
	if m == Async {
		return "async"
	}
	return "sync"
}

// ParseMode maps a configuration name to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(s) {
	case "sync", "synchronous", "":
		return Sync, true
	case "async", "asynchronous":
		return Async, true
	}
	return 0, false
}

// Durability orders how long data outlives its write. A reader requiring
// TransientLocal or stronger gets the current history replayed when matched.
type Durability int

const (
	Volatile Durability = iota
	TransientLocal
	Transient
	Persistent
)

func (d Durability) String() string {
	switch d {
	case Volatile:
		return "volatile"
	case TransientLocal:
		return "transient-local"
	case Transient:
		return "transient"
	case Persistent:
		return "persistent"
	default:
		return "unknown"
	}
}

// ParseDurability maps a configuration name to a Durability.
func ParseDurability(s string) (Durability, bool) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "-")) {
	case "volatile", "":
		return Volatile, true
	case "transient-local":
		return TransientLocal, true
	case "transient":
		return Transient, true
	case "persistent":
		return Persistent, true
	}
	return 0, false
}

// MatchedReadersAllocation bounds the matched-reader registry. A zero
// Maximum leaves it unbounded.
type MatchedReadersAllocation struct {
	Initial int
	Maximum int
}

// DefaultMaxBatchPayloadSize caps the payload bytes sent by one unthrottled
// drain before yielding to other writers.
const DefaultMaxBatchPayloadSize = 64000

// Options configure a Writer.
type Options struct {
	GUID  guid.GUID
	Topic string
	// Keyed writers require a defined instance handle on every change.
	Keyed      bool
	Mode       Mode
	Durability Durability
	History    history.Attributes

	Liveliness liveliness.Kind
	// Lease is the liveliness lease; liveliness.Infinite disables assertion.
	Lease              time.Duration
	AnnouncementPeriod time.Duration

	// MaxBlockingTime bounds AddChange when the context has no deadline and
	// every drain round.
	MaxBlockingTime time.Duration

	MatchedReaders MatchedReadersAllocation
	LocatorLimits  locator.Limits

	// FragmentSize splits payloads larger than it; zero disables fragmentation.
	FragmentSize uint16
	// FixedPayloadSize, when set, is reserved for every change regardless of
	// the requested size.
	FixedPayloadSize    uint32
	MaxMessageSize      int
	MaxBatchPayloadSize int
	// SeparateSending builds one message group per remote reader on the
	// synchronous path.
	SeparateSending bool

	FixedLocators []locator.Locator
	// FlowControllers names participant-wide controllers from the registry.
	FlowControllers []string
	// LocalControllers are owned by this writer and disabled on Close.
	LocalControllers []flowcontrol.Controller
}

// DefaultOptions returns a synchronous volatile writer with a keep-last(1)
// history.
func DefaultOptions() Options {
	return Options{
		Mode:                Sync,
		Durability:          Volatile,
		History:             history.DefaultAttributes(),
		Liveliness:          liveliness.Automatic,
		Lease:               liveliness.Infinite,
		AnnouncementPeriod:  3 * time.Second,
		MaxBlockingTime:     100 * time.Millisecond,
		MatchedReaders:      MatchedReadersAllocation{Initial: 4},
		LocatorLimits:       locator.DefaultLimits,
		MaxMessageSize:      message.DefaultMaxMessageSize,
		MaxBatchPayloadSize: DefaultMaxBatchPayloadSize,
	}
}

func (o *Options) setDefaults() {
	d := DefaultOptions()
	if o.MaxBlockingTime <= 0 {
		o.MaxBlockingTime = d.MaxBlockingTime
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.MaxBatchPayloadSize <= 0 {
		o.MaxBatchPayloadSize = d.MaxBatchPayloadSize
	}
	if o.History.MemoryPolicy == cache.Preallocated && o.History.PayloadMaxSize == 0 && o.FixedPayloadSize > 0 {
		o.History.PayloadMaxSize = o.FixedPayloadSize
	}
}
