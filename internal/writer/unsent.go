package writer

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/rzbill/rtps/internal/cache"
)

// unsentEntry is a queued change. For fragmented changes frags holds one
// bit per fragment still to send (bit i is fragment i+1).
type unsentEntry struct {
	change *cache.Change
	frags  *bitset.BitSet
}

func newUnsentEntry(c *cache.Change) *unsentEntry {
	e := &unsentEntry{change: c}
	if n := c.FragmentCount(); n > 0 {
		e.frags = bitset.New(uint(n))
		e.frags.FlipRange(0, uint(n))
	}
	return e
}

// unsentFragments lists pending fragment numbers in order.
func (e *unsentEntry) unsentFragments() []uint32 {
	if e.frags == nil {
		return nil
	}
	out := make([]uint32, 0, e.frags.Count())
	for i, ok := e.frags.NextSet(0); ok; i, ok = e.frags.NextSet(i + 1) {
		out = append(out, uint32(i)+1)
	}
	return out
}

// unsentQueue keeps entries in sequence order.
type unsentQueue struct {
	entries []*unsentEntry
}

func (q *unsentQueue) len() int { return len(q.entries) }

func (q *unsentQueue) push(c *cache.Change) { q.entries = append(q.entries, newUnsentEntry(c)) }

// assign replaces the queue with every change of the history.
func (q *unsentQueue) assign(changes []*cache.Change) {
	q.entries = q.entries[:0]
	for _, c := range changes {
		q.push(c)
	}
}

func (q *unsentQueue) front() *unsentEntry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

func (q *unsentQueue) popFront() {
	q.entries[0] = nil
	q.entries = q.entries[1:]
}

func (q *unsentQueue) index(seq cache.SequenceNumber) int {
	for i, e := range q.entries {
		if e.change.SequenceNumber == seq {
			return i
		}
	}
	return -1
}

func (q *unsentQueue) contains(seq cache.SequenceNumber) bool { return q.index(seq) >= 0 }

func (q *unsentQueue) remove(seq cache.SequenceNumber) bool {
	i := q.index(seq)
	if i < 0 {
		return false
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return true
}

// markSent records a sent item and drops the entry once nothing of it is
// left to send. Fragment 0 means the whole change.
func (q *unsentQueue) markSent(seq cache.SequenceNumber, frag uint32) {
	i := q.index(seq)
	if i < 0 {
		return
	}
	e := q.entries[i]
	if frag != 0 && e.frags != nil {
		e.frags.Clear(uint(frag - 1))
		if e.frags.Any() {
			return
		}
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
}

// dropBelow removes the entries numbered below seq.
func (q *unsentQueue) dropBelow(seq cache.SequenceNumber) {
	i := 0
	for i < len(q.entries) && q.entries[i].change.SequenceNumber < seq {
		q.entries[i] = nil
		i++
	}
	q.entries = q.entries[i:]
}

func (q *unsentQueue) clear() { q.entries = nil }
