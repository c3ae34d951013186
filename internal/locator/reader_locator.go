package locator

import (
	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/pkg/guid"
)

// LocalReader is the ingestion entry point of a reader living in this
// process.
type LocalReader interface {
	Deliver(c *cache.Change) bool
}

// LocalResolver classifies readers as local and finds their in-memory
// endpoint. The reader may register after it is matched, so lookups are
// retried until they succeed.
type LocalResolver interface {
	IsLocal(reader guid.GUID) bool
	FindLocalReader(reader guid.GUID) (LocalReader, bool)
}

// Limits bounds the locator sets of one reader. Zero means unbounded.
type Limits struct {
	MaxUnicast   int
	MaxMulticast int
}

// DefaultLimits mirrors the usual remote locator allocation.
var DefaultLimits = Limits{MaxUnicast: 4, MaxMulticast: 1}

// ReaderLocator is the delivery slot of one matched reader.
type ReaderLocator struct {
	guid             guid.GUID
	unicast          []Locator
	multicast        []Locator
	expectsInlineQos bool
	limits           Limits

	isLocal  bool
	resolver LocalResolver
	local    LocalReader

	// highest sequence number handed to the local reader
	watermark cache.SequenceNumber
}

// NewReaderLocator returns a free slot.
func NewReaderLocator(limits Limits) *ReaderLocator {
	return &ReaderLocator{limits: limits}
}

// Start binds the slot to a reader. It returns the number of locators that
// did not fit in the bounded sets.
func (r *ReaderLocator) Start(reader guid.GUID, unicast, multicast []Locator, expectsInlineQos bool, resolver LocalResolver) int {
	r.guid = reader
	r.expectsInlineQos = expectsInlineQos
	r.resolver = resolver
	r.local = nil
	r.watermark = cache.SequenceNumberUnknown
	r.isLocal = resolver != nil && resolver.IsLocal(reader)
	return r.setLocators(unicast, multicast)
}

// Update replaces the locators and QoS of a matched reader and reports
// whether anything differed.
func (r *ReaderLocator) Update(unicast, multicast []Locator, expectsInlineQos bool) (changed bool, dropped int) {
	nu, du := bounded(unicast, r.limits.MaxUnicast)
	nm, dm := bounded(multicast, r.limits.MaxMulticast)
	if equal(r.unicast, nu) && equal(r.multicast, nm) && r.expectsInlineQos == expectsInlineQos {
		return false, du + dm
	}
	r.unicast = nu
	r.multicast = nm
	r.expectsInlineQos = expectsInlineQos
	return true, du + dm
}

// Stop frees the slot.
func (r *ReaderLocator) Stop() {
	*r = ReaderLocator{limits: r.limits}
}

func (r *ReaderLocator) setLocators(unicast, multicast []Locator) int {
	var du, dm int
	r.unicast, du = bounded(unicast, r.limits.MaxUnicast)
	r.multicast, dm = bounded(multicast, r.limits.MaxMulticast)
	return du + dm
}

// GUID returns the reader identity.
func (r *ReaderLocator) GUID() guid.GUID { return r.guid }

// Unicast returns the reader's unicast locators.
func (r *ReaderLocator) Unicast() []Locator { return r.unicast }

// Multicast returns the reader's multicast locators.
func (r *ReaderLocator) Multicast() []Locator { return r.multicast }

// ExpectsInlineQos reports whether DATA to this reader carries inline QoS.
func (r *ReaderLocator) ExpectsInlineQos() bool { return r.expectsInlineQos }

// IsLocal reports whether the reader lives in this process.
func (r *ReaderLocator) IsLocal() bool { return r.isLocal }

// LocalReader resolves the in-memory reader, caching it once found.
func (r *ReaderLocator) LocalReader() (LocalReader, bool) {
	if !r.isLocal {
		return nil, false
	}
	if r.local == nil && r.resolver != nil {
		r.local, _ = r.resolver.FindLocalReader(r.guid)
	}
	return r.local, r.local != nil
}

// Watermark returns the highest sequence number delivered intraprocess.
func (r *ReaderLocator) Watermark() cache.SequenceNumber { return r.watermark }

// SetWatermark positions the watermark; changes at or below seq are never
// handed to the local reader.
func (r *ReaderLocator) SetWatermark(seq cache.SequenceNumber) { r.watermark = seq }

// DeliverIntraprocess hands c to the local reader unless a change with an
// equal or higher sequence number was already handed over. The watermark
// advances even when the reader declines the change.
func (r *ReaderLocator) DeliverIntraprocess(c *cache.Change) bool {
	if c.SequenceNumber <= r.watermark {
		return false
	}
	lr, ok := r.LocalReader()
	if !ok {
		return false
	}
	r.watermark = c.SequenceNumber
	return lr.Deliver(c)
}

// Destinations picks unicast when available, multicast otherwise.
func (r *ReaderLocator) Destinations() []Locator {
	if len(r.unicast) > 0 {
		return r.unicast
	}
	return r.multicast
}

func bounded(in []Locator, max int) ([]Locator, int) {
	out := make([]Locator, 0, len(in))
	dropped := 0
	for _, l := range in {
		if !l.IsValid() || contains(out, l) {
			continue
		}
		if max > 0 && len(out) >= max {
			dropped++
			continue
		}
		out = append(out, l)
	}
	return out, dropped
}

func contains(set []Locator, l Locator) bool {
	for _, x := range set {
		if x == l {
			return true
		}
	}
	return false
}

func equal(a, b []Locator) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
