package writer

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/internal/flowcontrol"
	"github.com/rzbill/rtps/internal/locator"
	"github.com/rzbill/rtps/internal/message"
	"github.com/rzbill/rtps/pkg/log"
)

// unsentChangeAdded delivers a change that was just added to the history.
func (w *Writer) unsentChangeAdded(ctx context.Context, c *cache.Change, deadline time.Time) error {
	w.assertLiveliness()

	if len(w.fixed) == 0 && len(w.readers) == 0 {
		w.notifyAll(c)
		return nil
	}
	if w.opts.Mode == Sync && len(w.lateJoiners) == 0 {
		return w.deliverSync(ctx, c, deadline)
	}
	w.unsent.push(c)
	// a sync writer with a pending replay queues c behind it and drains on
	// the caller's goroutine
	if w.scheduler == nil || w.opts.Mode == Sync {
		w.drainInline()
		if w.scheduler == nil || !w.unsent.contains(c.SequenceNumber) {
			return nil
		}
	}
	if !w.scheduler.Wake(w, deadline) {
		w.stats.timeouts.Add(1)
		w.logger.Warn("async sender not woken before deadline", log.Uint64("seq", uint64(c.SequenceNumber)))
		return errs.Deadline("writer %s: wake for change %d", w.guid, c.SequenceNumber)
	}
	return nil
}

// deliverSync hands c to local readers and sends it to remote destinations
// on the caller's goroutine. A deadline aborts the remaining sends; what was
// already sent stays sent and c stays in the history.
func (w *Writer) deliverSync(ctx context.Context, c *cache.Change, deadline time.Time) error {
	w.deliverLocal(c)

	var err error
	if w.opts.SeparateSending {
		for _, r := range w.readers {
			if r.IsLocal() {
				continue
			}
			dest := r.Destinations()
			g := message.NewGroup(w.guid.Prefix, message.DestinationFunc(func(ctx context.Context, msg []byte) error {
				return w.send(ctx, msg, dest)
			}), w.opts.MaxMessageSize, deadline)
			g.SetReader(r.GUID().EntityID)
			if serr := w.sendChange(ctx, g, c, r.ExpectsInlineQos()); serr != nil {
				err = errors.CombineErrors(err, serr)
				if errors.Is(serr, errs.ErrDeadlineExceeded) {
					break
				}
			}
		}
	} else if w.remoteDestinations() {
		g := w.newGroup(deadline)
		err = w.sendChange(ctx, g, c, w.inlineQosExpected)
	}
	if err != nil {
		if errors.Is(err, errs.ErrDeadlineExceeded) {
			w.stats.timeouts.Add(1)
			w.logger.Error("max blocking time reached", log.Uint64("seq", uint64(c.SequenceNumber)), log.Err(err))
		} else {
			w.logger.Error("cannot send change", log.Uint64("seq", uint64(c.SequenceNumber)), log.Err(err))
		}
		return err
	}
	w.notifyAll(c)
	return nil
}

// sendChange writes every fragment of c (or c whole) into g and flushes.
// Failed fragments are reported but do not stop the others, except on
// deadline.
func (w *Writer) sendChange(ctx context.Context, g *message.Group, c *cache.Change, inlineQos bool) error {
	var err error
	if n := c.FragmentCount(); n > 0 {
		for frag := uint32(1); frag <= n; frag++ {
			if ferr := g.AddDataFrag(ctx, c, frag, inlineQos); ferr != nil {
				err = errors.CombineErrors(err, errors.Wrapf(ferr, "fragment %d/%d", frag, n))
				if errors.Is(ferr, errs.ErrDeadlineExceeded) {
					return err
				}
			}
		}
	} else if aerr := g.AddData(ctx, c, inlineQos); aerr != nil {
		return aerr
	}
	return errors.CombineErrors(err, g.Flush(ctx))
}

// deliverLocal hands c to every local reader that has not seen it yet.
func (w *Writer) deliverLocal(c *cache.Change) {
	if w.thereAreLocal {
		for _, r := range w.readers {
			if r.IsLocal() && r.DeliverIntraprocess(c) {
				w.stats.localDelivered.Add(1)
			}
		}
	}
	if c.SequenceNumber > w.intraSeq {
		w.intraSeq = c.SequenceNumber
	}
}

func (w *Writer) remoteDestinations() bool {
	return len(w.selector.Selected()) > 0 || (!w.ignoreFixed && len(w.fixed) > 0)
}

func (w *Writer) newGroup(deadline time.Time) *message.Group {
	g := message.NewGroup(w.guid.Prefix, message.DestinationFunc(w.sendToSelection), w.opts.MaxMessageSize, deadline)
	g.SetReader(w.readerEntity())
	return g
}

// sendToSelection sends to the current selection plus the fixed locators.
// The selection is read at flush time, so a group must be flushed before
// the selection changes.
func (w *Writer) sendToSelection(ctx context.Context, msg []byte) error {
	to := w.selector.Selected()
	if !w.ignoreFixed && len(w.fixed) > 0 {
		to = append(append(make([]locator.Locator, 0, len(to)+len(w.fixed)), to...), w.fixed...)
	}
	return w.send(ctx, msg, to)
}

func (w *Writer) send(ctx context.Context, msg []byte, to []locator.Locator) error {
	if len(to) == 0 {
		return nil
	}
	if w.transport == nil {
		return errs.Precondition("writer %s: no transport for %d locators", w.guid, len(to))
	}
	if err := w.transport.Send(ctx, msg, to); err != nil {
		w.stats.sendErrors.Add(1)
		return err
	}
	w.stats.messages.Add(1)
	w.stats.bytes.Add(uint64(len(msg)))
	return nil
}

func (w *Writer) notifyAll(c *cache.Change) {
	if w.listener != nil {
		w.listener.OnChangeReceivedByAll(w, c)
	}
}

// wake asks for a drain, inline when no scheduler is configured.
func (w *Writer) wake() {
	if w.scheduler == nil {
		w.drainInline()
		return
	}
	if !w.scheduler.Wake(w, time.Time{}) {
		w.logger.Warn("async sender closed; changes stay queued", log.Int("unsent", w.unsent.len()))
	}
}

// drainInline drains on the caller's goroutine for as long as rounds make
// progress without waiting.
func (w *Writer) drainInline() {
	for w.unsent.len() > 0 {
		before := w.unsent.len()
		next := w.drainOnce()
		if next.IsZero() || next.After(time.Now()) || w.unsent.len() >= before {
			return
		}
	}
}

// Drain implements asyncsender.Drainer. The sender never runs two drains of
// one writer at a time.
func (w *Writer) Drain() {
	if w.closed.Load() {
		return
	}
	w.mu.Lock()
	if w.closed.Load() {
		w.mu.Unlock()
		return
	}
	next := w.drainOnce()
	w.mu.Unlock()

	if next.IsZero() || w.scheduler == nil || w.closed.Load() {
		return
	}
	if next.After(time.Now()) {
		w.scheduler.WakeAt(w, next)
		return
	}
	w.scheduler.Wake(w, time.Time{})
}

// drainOnce runs one drain pass and returns when the next one should run,
// or the zero time when nothing is left to send.
func (w *Writer) drainOnce() time.Time {
	if w.unsent.len() == 0 {
		return time.Time{}
	}
	w.stats.drains.Add(1)
	if w.selector.Dirty() {
		w.selector.Compute()
	}

	remote := w.thereAreRemote || len(w.fixed) > 0
	gated := len(w.localControllers) > 0 || len(w.participantControllers) > 0
	var (
		limited bool
		err     error
	)
	if !remote || !gated {
		err = w.sendAllUnsent(time.Now().Add(w.opts.MaxBlockingTime))
	} else {
		limited, err = w.sendFlowControlled()
	}
	if err != nil {
		if errors.Is(err, errs.ErrDeadlineExceeded) {
			w.stats.timeouts.Add(1)
			w.logger.Error("max blocking time reached while draining", log.Int("unsent", w.unsent.len()), log.Err(err))
		} else {
			w.logger.Error("drain failed", log.Int("unsent", w.unsent.len()), log.Err(err))
		}
	}

	now := time.Now()
	switch {
	case w.unsent.len() == 0:
		return time.Time{}
	case err != nil:
		return now.Add(w.opts.MaxBlockingTime)
	case limited:
		return flowcontrol.EarliestAvailable(now, w.localControllers, w.participantControllers)
	default:
		return now
	}
}

// sendAllUnsent is the unthrottled drain: changes go out in order until the
// queue is empty or the batch cap is reached.
func (w *Writer) sendAllUnsent(deadline time.Time) error {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	w.narrow()
	o := w.newOutbox(deadline, w.commitItem)
	var err error
	total := 0
	entries := append([]*unsentEntry(nil), w.unsent.entries...)
	for _, e := range entries {
		if total >= w.opts.MaxBatchPayloadSize {
			break
		}
		c := e.change
		if w.narrowed && c.SequenceNumber >= w.firstSeqForAll {
			if err = w.lift(ctx, o); err != nil {
				break
			}
		}
		w.deliverLocal(c)
		total += int(c.Payload.Length)
		if err = o.addAll(ctx, itemsFor(e)); err != nil {
			break
		}
	}
	if err == nil {
		err = o.flush(ctx)
	} else {
		o.discard()
	}
	w.restoreSelection()
	return err
}

// sendFlowControlled runs rounds of controller-admitted items until the
// queue is empty, a controller limited the round, or a send failed.
func (w *Writer) sendFlowControlled() (limited bool, err error) {
	defer w.restoreSelection()
	commit := func(it flowcontrol.Item) {
		w.commitItem(it)
		notifySent(it, w.localControllers, w.participantControllers)
	}
	for w.unsent.len() > 0 && !limited {
		var items []flowcontrol.Item
		for _, e := range w.unsent.entries {
			w.deliverLocal(e.change)
			items = append(items, itemsFor(e)...)
		}
		items, limited = flowcontrol.Chain(items, w.localControllers, w.participantControllers)
		if limited {
			w.stats.limited.Add(1)
		}

		deadline := time.Now().Add(w.opts.MaxBlockingTime)
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		w.narrow()
		o := w.newOutbox(deadline, commit)
		for _, it := range items {
			if w.narrowed && it.Change.SequenceNumber >= w.firstSeqForAll {
				if err = w.lift(ctx, o); err != nil {
					break
				}
			}
			if err = o.add(ctx, it); err != nil {
				break
			}
		}
		if err == nil {
			err = o.flush(ctx)
		} else {
			o.discard()
		}
		cancel()
		if err != nil {
			return limited, err
		}
	}
	return limited, nil
}

func notifySent(it flowcontrol.Item, groups ...[]flowcontrol.Controller) {
	for _, g := range groups {
		for _, c := range g {
			c.NotifySent(it)
		}
	}
}

// commitItem records an item accepted by the transport.
func (w *Writer) commitItem(it flowcontrol.Item) {
	seq := it.Change.SequenceNumber
	w.unsent.markSent(seq, it.Fragment)
	if !w.unsent.contains(seq) {
		w.notifyAll(it.Change)
	}
}

func itemsFor(e *unsentEntry) []flowcontrol.Item {
	c := e.change
	if e.frags == nil {
		return []flowcontrol.Item{{Change: c, Size: c.Payload.Length}}
	}
	frags := e.unsentFragments()
	items := make([]flowcontrol.Item, len(frags))
	for i, n := range frags {
		items[i] = flowcontrol.Item{Change: c, Fragment: n, Size: uint32(len(c.Fragment(n)))}
	}
	return items
}

// narrow restricts the selection to the late joiners and stops sending to
// the fixed locators.
func (w *Writer) narrow() {
	if w.narrowed || len(w.lateJoiners) == 0 {
		return
	}
	w.narrowed = true
	w.ignoreFixed = true
	w.selector.Reset(false)
	for _, g := range w.lateJoiners {
		w.selector.Enable(g)
	}
	w.selector.Compute()
	w.computeSelectedGUIDs()
}

// lift ends the late-joiner replay: what was built for the late joiners is
// flushed to them, then every reader is addressed again.
func (w *Writer) lift(ctx context.Context, o *outbox) error {
	if err := o.flush(ctx); err != nil {
		return err
	}
	w.logger.Debug("late-joiner replay complete", log.Int("late_joiners", len(w.lateJoiners)))
	w.lateJoiners = w.lateJoiners[:0]
	w.restoreSelection()
	o.group.SetReader(w.readerEntity())
	return nil
}

// restoreSelection re-enables every reader. A drain never returns with the
// selection narrowed.
func (w *Writer) restoreSelection() {
	if !w.narrowed {
		return
	}
	w.narrowed = false
	w.ignoreFixed = false
	w.selector.Reset(true)
	w.selector.Compute()
	w.computeSelectedGUIDs()
}

// UnsentChangesReset queues the whole history again for every reader.
func (w *Writer) UnsentChangesReset() {
	if err := w.lockWait(); err != nil {
		return
	}
	defer w.mu.Unlock()
	if w.history.Size() == 0 {
		return
	}
	changes := w.history.Changes()
	w.unsent.assign(changes)
	w.firstSeqForAll = changes[0].SequenceNumber
	w.wake()
}

// IsAckedByAll reports whether c no longer waits to be sent.
func (w *Writer) IsAckedByAll(c *cache.Change) bool {
	if c == nil || c.WriterGUID != w.guid {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.unsent.contains(c.SequenceNumber)
}

// UnsentCount returns the number of queued changes.
func (w *Writer) UnsentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unsent.len()
}

// outbox tracks items written into a group until the message carrying them
// is accepted by the transport. Items of a failed message stay queued.
type outbox struct {
	w      *Writer
	group  *message.Group
	items  []flowcontrol.Item
	commit func(flowcontrol.Item)
}

func (w *Writer) newOutbox(deadline time.Time, commit func(flowcontrol.Item)) *outbox {
	return &outbox{w: w, group: w.newGroup(deadline), commit: commit}
}

func (o *outbox) addAll(ctx context.Context, items []flowcontrol.Item) error {
	for _, it := range items {
		if err := o.add(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

func (o *outbox) add(ctx context.Context, it flowcontrol.Item) error {
	if !o.w.remoteDestinations() {
		o.commit(it)
		return nil
	}
	before, _ := o.group.Sent()
	var err error
	if it.Fragment != 0 {
		err = o.group.AddDataFrag(ctx, it.Change, it.Fragment, o.w.inlineQosExpected)
	} else {
		err = o.group.AddData(ctx, it.Change, o.w.inlineQosExpected)
	}
	if err != nil {
		o.discard()
		return errors.Wrapf(err, "change %d", it.Change.SequenceNumber)
	}
	if after, _ := o.group.Sent(); after != before {
		o.commitPending()
	}
	o.items = append(o.items, it)
	return nil
}

func (o *outbox) flush(ctx context.Context) error {
	if err := o.group.Flush(ctx); err != nil {
		o.items = o.items[:0]
		return err
	}
	o.commitPending()
	return nil
}

func (o *outbox) commitPending() {
	for _, it := range o.items {
		o.commit(it)
	}
	o.items = o.items[:0]
}

// discard drops buffered submessages; their items stay queued.
func (o *outbox) discard() {
	o.items = o.items[:0]
	o.group.Discard()
}
