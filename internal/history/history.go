package history

import (
	"sort"

	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/pkg/guid"
)

// Owner receives removal callbacks. Both are invoked by the goroutine that
// already holds the owner's lock and must not try to take it again.
type Owner interface {
	// ChangeRemoved runs before the change's resources are released.
	ChangeRemoved(c *cache.Change)
	// ReleaseChange returns the change's payload and slot to their pools.
	ReleaseChange(c *cache.Change) error
}

// History is the ordered store of one writer's changes.
type History struct {
	attr    Attributes
	writer  guid.GUID
	owner   Owner
	changes []*cache.Change
	nextSeq cache.SequenceNumber
	perInst map[cache.InstanceHandle]int
	bytes   uint64
}

// New creates an empty history for writer.
func New(writer guid.GUID, attr Attributes) *History {
	return &History{
		attr:    attr,
		writer:  writer,
		nextSeq: 1,
		perInst: make(map[cache.InstanceHandle]int),
	}
}

// SetOwner installs the removal callbacks.
func (h *History) SetOwner(o Owner) { h.owner = o }

// Attributes returns the configured limits.
func (h *History) Attributes() Attributes { return h.attr }

// Add assigns the next sequence number to c and appends it. KeepAll limits
// are checked before anything is mutated.
func (h *History) Add(c *cache.Change) error {
	if c == nil {
		return errs.Precondition("history: nil change")
	}
	if c.WriterGUID != h.writer {
		return errs.Precondition("history: change from writer %s added to %s", c.WriterGUID, h.writer)
	}
	if h.attr.Kind == KeepAll {
		if h.attr.MaxSamples > 0 && len(h.changes) >= h.attr.MaxSamples {
			return errs.Exhausted("history: %d samples", len(h.changes))
		}
		if lim := h.attr.instanceLimit(); lim > 0 && h.perInst[c.InstanceHandle] >= lim {
			return errs.Exhausted("history: %d samples for instance", lim)
		}
	} else {
		if lim := h.attr.instanceLimit(); lim > 0 {
			for h.perInst[c.InstanceHandle] >= lim {
				if !h.removeOldestOf(c.InstanceHandle) {
					break
				}
			}
		}
		if h.attr.MaxSamples > 0 {
			for len(h.changes) >= h.attr.MaxSamples {
				if !h.RemoveMin() {
					break
				}
			}
		}
	}
	c.SequenceNumber = h.nextSeq
	h.nextSeq++
	h.append(c)
	return nil
}

// Restore appends a change that already carries a sequence number, as read
// back from persistent storage. Numbers must keep increasing.
func (h *History) Restore(c *cache.Change) error {
	if c == nil || c.WriterGUID != h.writer {
		return errs.Precondition("history: restore of foreign change")
	}
	if c.SequenceNumber < h.nextSeq {
		return errs.Precondition("history: restored sequence %d below next %d", c.SequenceNumber, h.nextSeq)
	}
	h.nextSeq = c.SequenceNumber + 1
	h.append(c)
	return nil
}

// SetNextSequenceNumber moves the sequence counter forward, never back.
func (h *History) SetNextSequenceNumber(seq cache.SequenceNumber) {
	if seq > h.nextSeq {
		h.nextSeq = seq
	}
}

func (h *History) append(c *cache.Change) {
	h.changes = append(h.changes, c)
	h.perInst[c.InstanceHandle]++
	h.bytes += uint64(c.Payload.Length)
}

// NextSequenceNumber peeks the number the next Add will assign.
func (h *History) NextSequenceNumber() cache.SequenceNumber { return h.nextSeq }

// Size returns the number of changes held.
func (h *History) Size() int { return len(h.changes) }

// Bytes returns the total payload bytes held.
func (h *History) Bytes() uint64 { return h.bytes }

// Min returns the lowest-sequence change.
func (h *History) Min() (*cache.Change, bool) {
	if len(h.changes) == 0 {
		return nil, false
	}
	return h.changes[0], true
}

// Max returns the highest-sequence change.
func (h *History) Max() (*cache.Change, bool) {
	if len(h.changes) == 0 {
		return nil, false
	}
	return h.changes[len(h.changes)-1], true
}

// Get finds a change by sequence number.
func (h *History) Get(seq cache.SequenceNumber) (*cache.Change, bool) {
	i := h.search(seq)
	if i < len(h.changes) && h.changes[i].SequenceNumber == seq {
		return h.changes[i], true
	}
	return nil, false
}

// Changes returns a snapshot of the changes in sequence order.
func (h *History) Changes() []*cache.Change {
	out := make([]*cache.Change, len(h.changes))
	copy(out, h.changes)
	return out
}

// RemoveMin removes the lowest-sequence change and releases its resources.
func (h *History) RemoveMin() bool {
	if len(h.changes) == 0 {
		return false
	}
	h.removeAt(0)
	return true
}

// Remove removes the change with the given sequence number.
func (h *History) Remove(seq cache.SequenceNumber) bool {
	i := h.search(seq)
	if i >= len(h.changes) || h.changes[i].SequenceNumber != seq {
		return false
	}
	h.removeAt(i)
	return true
}

// RemoveOlderThan removes from the front until at most max changes remain.
// A max of zero drains the history. It reports whether anything was removed.
func (h *History) RemoveOlderThan(max int) bool {
	removed := false
	for len(h.changes) > max {
		h.removeAt(0)
		removed = true
	}
	return removed
}

// Clear removes every change.
func (h *History) Clear() { h.RemoveOlderThan(0) }

func (h *History) removeOldestOf(inst cache.InstanceHandle) bool {
	for i, c := range h.changes {
		if c.InstanceHandle == inst {
			h.removeAt(i)
			return true
		}
	}
	return false
}

func (h *History) removeAt(i int) {
	c := h.changes[i]
	copy(h.changes[i:], h.changes[i+1:])
	h.changes[len(h.changes)-1] = nil
	h.changes = h.changes[:len(h.changes)-1]
	if n := h.perInst[c.InstanceHandle]; n <= 1 {
		delete(h.perInst, c.InstanceHandle)
	} else {
		h.perInst[c.InstanceHandle] = n - 1
	}
	h.bytes -= uint64(c.Payload.Length)
	if h.owner != nil {
		h.owner.ChangeRemoved(c)
		_ = h.owner.ReleaseChange(c)
	}
}

func (h *History) search(seq cache.SequenceNumber) int {
	return sort.Search(len(h.changes), func(i int) bool { return h.changes[i].SequenceNumber >= seq })
}
