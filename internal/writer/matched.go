package writer

import (
	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/internal/locator"
	"github.com/rzbill/rtps/pkg/guid"
	"github.com/rzbill/rtps/pkg/log"
)

// ReaderProxyData describes a matched reader as discovered.
type ReaderProxyData struct {
	GUID             guid.GUID
	Unicast          []locator.Locator
	Multicast        []locator.Locator
	ExpectsInlineQos bool
	Durability       Durability
}

// MatchedReaderAdd registers a reader. It returns true when the reader was
// added or its locators changed, false when it was already matched with
// identical data, and errs.ErrResourceExhausted when the registry is full.
//
// A reader requiring TransientLocal (or stronger) data that matches a
// writer of that durability with a non-empty history gets the history
// replayed through the late-joiner mechanism.
func (w *Writer) MatchedReaderAdd(data ReaderProxyData) (bool, error) {
	if data.GUID.IsUnknown() {
		return false, errs.Precondition("writer: matched reader with unknown guid")
	}
	if err := w.lockWait(); err != nil {
		return false, err
	}
	defer w.mu.Unlock()

	logger := w.logger.With(log.Stringer("reader", data.GUID))
	if r := w.findReader(data.GUID); r != nil {
		changed, dropped := r.Update(data.Unicast, data.Multicast, data.ExpectsInlineQos)
		if dropped > 0 {
			logger.Warn("reader locators beyond allocation dropped", log.Int("dropped", dropped))
		}
		if !changed {
			logger.Warn("reader already matched with identical data")
			return false, nil
		}
		w.selector.Touch()
		w.updateReaderInfo()
		logger.Info("matched reader updated")
		return true, nil
	}

	var r *locator.ReaderLocator
	switch {
	case len(w.free) > 0:
		r = w.free[len(w.free)-1]
		w.free = w.free[:len(w.free)-1]
	case w.opts.MatchedReaders.Maximum > 0 && len(w.readers) >= w.opts.MatchedReaders.Maximum:
		logger.Warn("matched reader registry full", log.Int("maximum", w.opts.MatchedReaders.Maximum))
		return false, errs.Exhausted("writer: %d matched readers", len(w.readers))
	default:
		r = locator.NewReaderLocator(w.opts.LocatorLimits)
	}
	if dropped := r.Start(data.GUID, data.Unicast, data.Multicast, data.ExpectsInlineQos, w.resolver); dropped > 0 {
		logger.Warn("reader locators beyond allocation dropped", log.Int("dropped", dropped))
	}
	w.readers = append(w.readers, r)
	if r.IsLocal() {
		r.SetWatermark(w.intraSeq)
	} else {
		w.selector.Add(r)
	}
	w.updateReaderInfo()

	if w.history.Size() > 0 && w.opts.Durability >= TransientLocal && data.Durability >= TransientLocal {
		w.addLateJoiner(r)
		logger.Info("late joiner matched", log.Int("replay", w.history.Size()), log.Uint64("first_seq_for_all", uint64(w.firstSeqForAll)))
	} else {
		logger.Info("matched reader added", log.Bool("local", r.IsLocal()))
	}
	return true, nil
}

// addLateJoiner queues the whole history for r. Entries at or above the
// threshold have not reached the existing readers yet, so it never moves
// past them.
func (w *Writer) addLateJoiner(r *locator.ReaderLocator) {
	switch {
	case len(w.lateJoiners) > 0:
		// keep the pending threshold
	case w.unsent.len() > 0:
		w.firstSeqForAll = w.unsent.front().change.SequenceNumber
	default:
		w.firstSeqForAll = w.history.NextSequenceNumber()
	}
	w.unsent.assign(w.history.Changes())
	w.lateJoiners = append(w.lateJoiners, r.GUID())
	if r.IsLocal() {
		r.SetWatermark(cache.SequenceNumberUnknown)
	}
	w.wake()
}

// MatchedReaderRemove unregisters a reader and reports whether it was
// matched.
func (w *Writer) MatchedReaderRemove(reader guid.GUID) bool {
	if err := w.lockWait(); err != nil {
		return false
	}
	defer w.mu.Unlock()
	for i, r := range w.readers {
		if r.GUID() != reader {
			continue
		}
		if !r.IsLocal() {
			w.selector.Remove(reader)
		}
		w.readers = append(w.readers[:i], w.readers[i+1:]...)
		r.Stop()
		w.free = append(w.free, r)
		w.removeLateJoiner(reader)
		w.updateReaderInfo()
		w.logger.Info("matched reader removed", log.Stringer("reader", reader))
		return true
	}
	return false
}

// removeLateJoiner drops reader from the replay. When no late joiner is
// left, the replayed entries below the threshold already reached every
// other reader and leave the queue.
func (w *Writer) removeLateJoiner(reader guid.GUID) {
	for i, g := range w.lateJoiners {
		if g != reader {
			continue
		}
		w.lateJoiners = append(w.lateJoiners[:i], w.lateJoiners[i+1:]...)
		if len(w.lateJoiners) == 0 {
			w.unsent.dropBelow(w.firstSeqForAll)
		}
		return
	}
}

// MatchedReaderIsMatched reports whether reader is registered.
func (w *Writer) MatchedReaderIsMatched(reader guid.GUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.findReader(reader) != nil
}

// MatchedReaders lists the registered readers in match order.
func (w *Writer) MatchedReaders() []guid.GUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]guid.GUID, len(w.readers))
	for i, r := range w.readers {
		out[i] = r.GUID()
	}
	return out
}

// LateJoiners lists readers still waiting for their history replay.
func (w *Writer) LateJoiners() []guid.GUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]guid.GUID(nil), w.lateJoiners...)
}

// FirstSequenceForAll is the sequence number from which changes go to every
// reader again.
func (w *Writer) FirstSequenceForAll() cache.SequenceNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstSeqForAll
}

func (w *Writer) findReader(g guid.GUID) *locator.ReaderLocator {
	for _, r := range w.readers {
		if r.GUID() == g {
			return r
		}
	}
	return nil
}

// updateReaderInfo recomputes everything derived from the registry. It
// must run after every registry change, before the next send.
func (w *Writer) updateReaderInfo() {
	w.inlineQosExpected = false
	w.thereAreRemote = false
	w.thereAreLocal = false
	for _, r := range w.readers {
		w.inlineQosExpected = w.inlineQosExpected || r.ExpectsInlineQos()
		if r.IsLocal() {
			w.thereAreLocal = true
		} else {
			w.thereAreRemote = true
		}
	}
	w.selector.Compute()
	w.computeSelectedGUIDs()
}

// computeSelectedGUIDs rebuilds the remote reader and participant lists from
// the current selection. The SPDP writer always addresses the well-known
// SPDP reader.
func (w *Writer) computeSelectedGUIDs() {
	w.remoteGUIDs = w.remoteGUIDs[:0]
	w.remoteParticipants = w.remoteParticipants[:0]
	if w.builtin {
		w.remoteGUIDs = append(w.remoteGUIDs, guid.New(guid.PrefixUnknown, guid.EntityIDSPDPReader))
		w.remoteParticipants = append(w.remoteParticipants, guid.PrefixUnknown)
		return
	}
	for _, g := range w.selector.EnabledGUIDs() {
		w.remoteGUIDs = append(w.remoteGUIDs, g)
		seen := false
		for _, p := range w.remoteParticipants {
			if p == g.Prefix {
				seen = true
				break
			}
		}
		if !seen {
			w.remoteParticipants = append(w.remoteParticipants, g.Prefix)
		}
	}
}

// RemoteGUIDs lists the remote readers currently addressed.
func (w *Writer) RemoteGUIDs() []guid.GUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]guid.GUID(nil), w.remoteGUIDs...)
}

// RemoteParticipants lists the participants of the addressed readers.
func (w *Writer) RemoteParticipants() []guid.Prefix {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]guid.Prefix(nil), w.remoteParticipants...)
}

// DestinationGUIDPrefix is the participant every addressed reader belongs
// to, or the unknown prefix when there is not exactly one.
func (w *Writer) DestinationGUIDPrefix() guid.Prefix {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.remoteParticipants) == 1 {
		return w.remoteParticipants[0]
	}
	return guid.PrefixUnknown
}

// readerEntity addresses submessages to the single selected reader, if any.
func (w *Writer) readerEntity() guid.EntityID {
	if len(w.remoteGUIDs) == 1 {
		return w.remoteGUIDs[0].EntityID
	}
	return guid.EntityIDUnknown
}

// SetFixedLocators replaces the extra destinations that receive every change
// regardless of matched readers.
func (w *Writer) SetFixedLocators(list []locator.Locator) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setFixedLocators(list)
}

// FixedLocators returns the extra destinations.
func (w *Writer) FixedLocators() []locator.Locator {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]locator.Locator(nil), w.fixed...)
}

func (w *Writer) setFixedLocators(list []locator.Locator) {
	w.fixed = w.fixed[:0]
	for _, l := range list {
		if !l.IsValid() {
			continue
		}
		dup := false
		for _, x := range w.fixed {
			if x == l {
				dup = true
				break
			}
		}
		if !dup {
			w.fixed = append(w.fixed, l)
		}
	}
}
