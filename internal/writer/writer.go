package writer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/rtps/internal/asyncsender"
	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/internal/flowcontrol"
	"github.com/rzbill/rtps/internal/history"
	"github.com/rzbill/rtps/internal/liveliness"
	"github.com/rzbill/rtps/internal/locator"
	"github.com/rzbill/rtps/internal/message"
	"github.com/rzbill/rtps/internal/persistence"
	"github.com/rzbill/rtps/internal/transport"
	"github.com/rzbill/rtps/pkg/guid"
	"github.com/rzbill/rtps/pkg/log"
)

// Scheduler is the shared asynchronous sender as seen by a writer.
type Scheduler interface {
	Wake(d asyncsender.Drainer, deadline time.Time) bool
	WakeAt(d asyncsender.Drainer, at time.Time)
	Unregister(d asyncsender.Drainer)
}

// LivelinessAsserter records liveliness assertions.
type LivelinessAsserter interface {
	Assert(writer guid.GUID, kind liveliness.Kind, lease time.Duration) bool
	Remove(writer guid.GUID)
}

// HistoryStore keeps the history of Persistent writers across restarts.
type HistoryStore interface {
	Append(ctx context.Context, c *cache.Change) error
	Remove(ctx context.Context, w guid.GUID, seq cache.SequenceNumber) error
	Load(w guid.GUID, fn func(persistence.Record) error) error
	LastSequence(w guid.GUID) (cache.SequenceNumber, error)
}

// Listener is told when a change no longer needs to be sent to anyone.
// It runs with the writer lock held and must not call back into the writer.
type Listener interface {
	OnChangeReceivedByAll(w *Writer, c *cache.Change)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(w *Writer, c *cache.Change)

func (f ListenerFunc) OnChangeReceivedByAll(w *Writer, c *cache.Change) { f(w, c) }

// Deps are the collaborators of a Writer. Only Transport is required for
// writers with remote readers; the rest may be nil.
type Deps struct {
	Transport  transport.Transport
	Scheduler  Scheduler
	Liveliness LivelinessAsserter
	Local      locator.LocalResolver
	Flow       *flowcontrol.Registry
	Store      HistoryStore
	// ChangePool and PayloadPool may be shared between writers. When nil
	// they are derived from the history attributes.
	ChangePool  *cache.ChangePool
	PayloadPool cache.PayloadPool
	Listener    Listener
	Logger      log.Logger
}

// Stats is a point-in-time view of a writer.
type Stats struct {
	GUID           string `json:"guid"`
	Topic          string `json:"topic,omitempty"`
	Mode           string `json:"mode"`
	Durability     string `json:"durability"`
	HistorySize    int    `json:"history_size"`
	HistoryBytes   uint64 `json:"history_bytes"`
	MinSequence    uint64 `json:"min_sequence"`
	MaxSequence    uint64 `json:"max_sequence"`
	Unsent         int    `json:"unsent"`
	MatchedReaders int    `json:"matched_readers"`
	LocalReaders   int    `json:"local_readers"`
	LateJoiners    int    `json:"late_joiners"`
	Selected       int    `json:"selected_locators"`

	Added          uint64 `json:"added"`
	LocalDelivered uint64 `json:"local_delivered"`
	Messages       uint64 `json:"messages"`
	Bytes          uint64 `json:"bytes"`
	Drains         uint64 `json:"drains"`
	Limited        uint64 `json:"limited_rounds"`
	Timeouts       uint64 `json:"timeouts"`
	SendErrors     uint64 `json:"send_errors"`
}

type counters struct {
	added, localDelivered, messages, bytes atomic.Uint64
	drains, limited, timeouts, sendErrors  atomic.Uint64
}

// Writer is a stateless best-effort writer.
type Writer struct {
	opts   Options
	guid   guid.GUID
	logger log.Logger

	mu      *timedMutex
	history *history.History

	changePool  *cache.ChangePool
	payloadPool cache.PayloadPool

	transport  transport.Transport
	scheduler  Scheduler
	liveliness LivelinessAsserter
	resolver   locator.LocalResolver
	store      HistoryStore
	listener   Listener

	localControllers       []flowcontrol.Controller
	participantControllers []flowcontrol.Controller

	// matched-reader registry
	readers  []*locator.ReaderLocator
	free     []*locator.ReaderLocator
	selector *locator.Selector

	inlineQosExpected bool
	thereAreRemote    bool
	thereAreLocal     bool
	builtin           bool

	remoteGUIDs        []guid.GUID
	remoteParticipants []guid.Prefix

	fixed       []locator.Locator
	ignoreFixed bool

	unsent         unsentQueue
	lateJoiners    []guid.GUID
	firstSeqForAll cache.SequenceNumber
	narrowed       bool
	// highest sequence number that passed the local delivery stage; it only
	// seeds the watermark of newly matched local readers
	intraSeq cache.SequenceNumber

	closing bool
	closed  atomic.Bool
	stats   counters
}

// New creates a writer. A Persistent writer with a store reloads its stored
// history before returning.
func New(opts Options, deps Deps) (*Writer, error) {
	if opts.GUID.IsUnknown() {
		return nil, errs.Precondition("writer: unknown guid")
	}
	opts.setDefaults()
	if deps.Logger == nil {
		deps.Logger = log.NewNopLogger()
	}
	w := &Writer{
		opts:       opts,
		guid:       opts.GUID,
		logger:     deps.Logger.WithComponent("writer").With(log.Stringer(log.WriterKey, opts.GUID)),
		mu:         newTimedMutex(),
		history:    history.New(opts.GUID, opts.History),
		transport:  deps.Transport,
		scheduler:  deps.Scheduler,
		liveliness: deps.Liveliness,
		resolver:   deps.Local,
		listener:   deps.Listener,
		selector:   locator.NewSelector(),
		builtin:    opts.GUID.EntityID == guid.EntityIDSPDPWriter,

		localControllers: opts.LocalControllers,
	}
	if opts.Durability == Persistent {
		w.store = deps.Store
	}
	w.history.SetOwner(historyOwner{w})

	poolCfg := opts.History.PoolConfig()
	w.changePool = deps.ChangePool
	if w.changePool == nil {
		w.changePool = cache.NewChangePool(poolCfg)
	}
	w.payloadPool = deps.PayloadPool
	if w.payloadPool == nil {
		w.payloadPool = cache.NewPayloadPool(poolCfg)
	}
	w.payloadPool.Attach()

	if len(opts.FlowControllers) > 0 {
		if deps.Flow == nil {
			w.payloadPool.Detach()
			return nil, errs.Precondition("writer: flow controllers %v without a registry", opts.FlowControllers)
		}
		ctrls, err := deps.Flow.Resolve(opts.FlowControllers)
		if err != nil {
			w.payloadPool.Detach()
			return nil, err
		}
		w.participantControllers = ctrls
	}

	if opts.MatchedReaders.Initial > 0 {
		w.readers = make([]*locator.ReaderLocator, 0, opts.MatchedReaders.Initial)
		for i := 0; i < opts.MatchedReaders.Initial; i++ {
			w.free = append(w.free, locator.NewReaderLocator(opts.LocatorLimits))
		}
	}
	w.setFixedLocators(opts.FixedLocators)
	w.updateReaderInfo()

	if w.store != nil {
		if err := w.restore(); err != nil {
			w.closing = true
			w.history.Clear()
			w.payloadPool.Detach()
			return nil, err
		}
	}
	w.logger.Info("writer created",
		log.Str("topic", opts.Topic),
		log.Stringer("mode", opts.Mode),
		log.Stringer("durability", opts.Durability),
		log.Int("history", w.history.Size()))
	return w, nil
}

// restore reloads the stored history. Records that no longer fit the pools
// are skipped; numbering continues after the highest number ever stored.
func (w *Writer) restore() error {
	last, err := w.store.LastSequence(w.guid)
	if err != nil {
		return errors.Wrap(err, "writer: load last sequence")
	}
	skipped := 0
	err = w.store.Load(w.guid, func(rec persistence.Record) error {
		c, err := w.newChange(rec.Kind, rec.InstanceHandle, uint32(len(rec.Payload)))
		if err != nil {
			skipped++
			return nil
		}
		c.SetData(rec.Payload)
		c.SourceTimestamp = rec.Timestamp
		c.SequenceNumber = rec.Sequence
		fs := rec.FragmentSize
		if fs == 0 {
			fs = w.fragmentSize()
		}
		c.SetFragmentSize(fs)
		if err := w.history.Restore(c); err != nil {
			_ = w.releaseChange(c)
			skipped++
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "writer: load history")
	}
	w.history.SetNextSequenceNumber(last + 1)
	if skipped > 0 {
		w.logger.Warn("stored changes skipped on restore", log.Int("skipped", skipped))
	}
	w.logger.Info("history restored", log.Int("changes", w.history.Size()), log.Uint64("next_seq", uint64(w.history.NextSequenceNumber())))
	return nil
}

// ID implements asyncsender.Drainer.
func (w *Writer) ID() guid.GUID { return w.guid }

// GUID returns the writer identity.
func (w *Writer) GUID() guid.GUID { return w.guid }

// Options returns the effective options.
func (w *Writer) Options() Options { return w.opts }

// NewChange reserves a change slot and a payload of at least size bytes.
// The change belongs to the caller until AddChange succeeds or it is handed
// back with ReleaseChange.
func (w *Writer) NewChange(kind cache.Kind, handle cache.InstanceHandle, size uint32) (*cache.Change, error) {
	if w.closed.Load() {
		return nil, errs.ErrClosed
	}
	if w.opts.Keyed && !handle.IsDefined() {
		return nil, errs.Precondition("writer: keyed change without instance handle")
	}
	c, err := w.newChange(kind, handle, size)
	if err != nil {
		w.logger.Warn("cannot reserve change", log.Err(err))
		return nil, err
	}
	return c, nil
}

func (w *Writer) newChange(kind cache.Kind, handle cache.InstanceHandle, size uint32) (*cache.Change, error) {
	c, err := w.changePool.Reserve()
	if err != nil {
		return nil, err
	}
	if w.opts.FixedPayloadSize > 0 {
		size = w.opts.FixedPayloadSize
	}
	if err := w.payloadPool.Get(size, c); err != nil {
		_ = w.changePool.Release(c)
		return nil, err
	}
	c.Kind = kind
	c.InstanceHandle = handle
	c.WriterGUID = w.guid
	return c, nil
}

// ReleaseChange returns a change and its payload to their pools. Changes
// not issued by this writer's pool, and changes still held by the history,
// fail with errs.ErrInvalidPrecondition.
func (w *Writer) ReleaseChange(c *cache.Change) error {
	if c == nil || c.WriterGUID != w.guid || !w.changePool.Owns(c) {
		return cache.ErrNotOwned
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inHistory(c) {
		return errs.Precondition("writer: change %d is in the history", c.SequenceNumber)
	}
	return w.releaseChange(c)
}

func (w *Writer) inHistory(c *cache.Change) bool {
	if c.SequenceNumber == cache.SequenceNumberUnknown {
		return false
	}
	held, ok := w.history.Get(c.SequenceNumber)
	return ok && held == c
}

// releaseChange skips the history check; the history releases through it.
func (w *Writer) releaseChange(c *cache.Change) error {
	if !w.changePool.Owns(c) {
		return cache.ErrNotOwned
	}
	var perr error
	if c.Payload.Owner() != nil {
		perr = w.payloadPool.Release(c)
	}
	return errors.CombineErrors(perr, w.changePool.Release(c))
}

// historyOwner receives removals from the history, which runs under the
// writer lock.
type historyOwner struct{ w *Writer }

func (o historyOwner) ChangeRemoved(c *cache.Change)       { o.w.changeRemoved(c) }
func (o historyOwner) ReleaseChange(c *cache.Change) error { return o.w.releaseChange(c) }

// changeRemoved runs before the history releases c.
func (w *Writer) changeRemoved(c *cache.Change) {
	w.unsent.remove(c.SequenceNumber)
	if w.store != nil && !w.closing {
		ctx, cancel := context.WithTimeout(context.Background(), w.opts.MaxBlockingTime)
		defer cancel()
		if err := w.store.Remove(ctx, w.guid, c.SequenceNumber); err != nil {
			w.logger.Warn("cannot remove stored change", log.Uint64("seq", uint64(c.SequenceNumber)), log.Err(err))
		}
	}
}

// Write reserves a change for data and adds it. It returns the assigned
// sequence number.
func (w *Writer) Write(ctx context.Context, kind cache.Kind, handle cache.InstanceHandle, data []byte) (cache.SequenceNumber, error) {
	c, err := w.NewChange(kind, handle, uint32(len(data)))
	if err != nil {
		return cache.SequenceNumberUnknown, err
	}
	if !c.SetData(data) {
		_ = w.releaseChange(c)
		return cache.SequenceNumberUnknown, errs.Exhausted("writer: payload buffer smaller than %d bytes", len(data))
	}
	c.SourceTimestamp = time.Now()
	seq, owned, err := w.addChange(ctx, c)
	if !owned {
		_ = w.releaseChange(c)
	}
	return seq, err
}

// fragmentSize caps the configured fragment size so that every fragment
// fits one message. Payloads under the cap go out unfragmented.
func (w *Writer) fragmentSize() uint16 {
	size := message.MaxFragmentSize(w.opts.MaxMessageSize)
	if f := w.opts.FragmentSize; f > 0 && f < size {
		size = f
	}
	return size
}

func (w *Writer) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(w.opts.MaxBlockingTime)
}

func (w *Writer) lock(deadline time.Time) error {
	if !w.mu.LockUntil(deadline) {
		w.stats.timeouts.Add(1)
		return errs.Deadline("writer %s: lock not acquired before deadline", w.guid)
	}
	if w.closed.Load() {
		w.mu.Unlock()
		return errs.ErrClosed
	}
	return nil
}

// lockWait blocks until the lock is free.
func (w *Writer) lockWait() error {
	w.mu.Lock()
	if w.closed.Load() {
		w.mu.Unlock()
		return errs.ErrClosed
	}
	return nil
}

// AddChange assigns the next sequence number to c, stores it and delivers
// it. A sequence number is assigned only when the history accepted c; in
// that case c belongs to the writer even if delivery failed. A Persistent
// writer that cannot store c removes it again and releases it.
func (w *Writer) AddChange(ctx context.Context, c *cache.Change) error {
	_, _, err := w.addChange(ctx, c)
	return err
}

// addChange reports whether the writer took ownership of c.
func (w *Writer) addChange(ctx context.Context, c *cache.Change) (cache.SequenceNumber, bool, error) {
	if c == nil {
		return cache.SequenceNumberUnknown, false, errs.Precondition("writer: nil change")
	}
	if w.closed.Load() {
		return cache.SequenceNumberUnknown, false, errs.ErrClosed
	}
	deadline := w.deadline(ctx)
	if err := w.lock(deadline); err != nil {
		return cache.SequenceNumberUnknown, false, err
	}
	defer w.mu.Unlock()

	if c.WriterGUID != w.guid {
		return cache.SequenceNumberUnknown, false, errs.Precondition("writer: change of %s added to %s", c.WriterGUID, w.guid)
	}
	// c already belongs to the history; the caller must not release it
	if c.SequenceNumber != cache.SequenceNumberUnknown || w.inHistory(c) {
		return cache.SequenceNumberUnknown, true, errs.Precondition("writer: change %d already added", c.SequenceNumber)
	}
	if w.opts.Keyed && !c.InstanceHandle.IsDefined() {
		return cache.SequenceNumberUnknown, false, errs.Precondition("writer: keyed change without instance handle")
	}
	if c.FragmentCount() == 0 {
		c.SetFragmentSize(w.fragmentSize())
	}
	if c.SourceTimestamp.IsZero() {
		c.SourceTimestamp = time.Now()
	}
	if err := w.history.Add(c); err != nil {
		w.logger.Warn("history rejected change", log.Err(err))
		return cache.SequenceNumberUnknown, false, err
	}
	seq := c.SequenceNumber
	if w.store != nil {
		if err := w.store.Append(ctx, c); err != nil {
			w.history.Remove(seq)
			w.logger.Error("cannot store change", log.Uint64("seq", uint64(seq)), log.Err(err))
			return cache.SequenceNumberUnknown, true, errors.Wrapf(err, "writer: store change %d", seq)
		}
	}
	w.stats.added.Add(1)
	return seq, true, w.unsentChangeAdded(ctx, c, deadline)
}

// RemoveOlderChanges keeps at most max changes; zero removes all. It
// reports whether anything was removed.
func (w *Writer) RemoveOlderChanges(max int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.RemoveOlderThan(max)
}

// RemoveMinChange removes the oldest change.
func (w *Writer) RemoveMinChange() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.RemoveMin()
}

// RemoveChange removes one change by sequence number.
func (w *Writer) RemoveChange(seq cache.SequenceNumber) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.Remove(seq)
}

// SeqNumMin returns the lowest sequence number held, or unknown.
func (w *Writer) SeqNumMin() cache.SequenceNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.history.Min(); ok {
		return c.SequenceNumber
	}
	return cache.SequenceNumberUnknown
}

// SeqNumMax returns the highest sequence number held, or unknown.
func (w *Writer) SeqNumMax() cache.SequenceNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.history.Max(); ok {
		return c.SequenceNumber
	}
	return cache.SequenceNumberUnknown
}

// NextSequenceNumber peeks the number the next change will get.
func (w *Writer) NextSequenceNumber() cache.SequenceNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.NextSequenceNumber()
}

// HistorySize returns the number of changes held.
func (w *Writer) HistorySize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.Size()
}

// Sequences lists the sequence numbers held, in order.
func (w *Writer) Sequences() []cache.SequenceNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	changes := w.history.Changes()
	out := make([]cache.SequenceNumber, len(changes))
	for i, c := range changes {
		out[i] = c.SequenceNumber
	}
	return out
}

// AssertLiveliness asserts liveliness for manual kinds. Automatic writers
// assert on every change.
func (w *Writer) AssertLiveliness() bool {
	if w.liveliness == nil {
		return false
	}
	return w.liveliness.Assert(w.guid, w.opts.Liveliness, w.opts.Lease)
}

func (w *Writer) assertLiveliness() {
	if w.opts.Lease == liveliness.Infinite || w.liveliness == nil {
		return
	}
	w.liveliness.Assert(w.guid, w.opts.Liveliness, w.opts.Lease)
}

// Close tears the writer down: controllers are disabled, the writer leaves
// the async sender (waiting for an in-flight drain) and only then is the
// history released. Stored history is kept.
func (w *Writer) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, c := range w.localControllers {
		c.Disable()
	}
	if w.scheduler != nil {
		w.scheduler.Unregister(w)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closing = true
	w.unsent.clear()
	w.history.Clear()
	for _, r := range w.readers {
		r.Stop()
	}
	w.readers = nil
	w.free = nil
	w.selector.Clear()
	w.lateJoiners = nil
	w.payloadPool.Detach()
	if w.liveliness != nil {
		w.liveliness.Remove(w.guid)
	}
	w.logger.Info("writer closed")
	return nil
}

// Stats returns a snapshot of the writer.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Stats{
		GUID:           w.guid.String(),
		Topic:          w.opts.Topic,
		Mode:           w.opts.Mode.String(),
		Durability:     w.opts.Durability.String(),
		HistorySize:    w.history.Size(),
		HistoryBytes:   w.history.Bytes(),
		Unsent:         w.unsent.len(),
		MatchedReaders: len(w.readers),
		LateJoiners:    len(w.lateJoiners),
		Selected:       len(w.selector.Selected()),

		Added:          w.stats.added.Load(),
		LocalDelivered: w.stats.localDelivered.Load(),
		Messages:       w.stats.messages.Load(),
		Bytes:          w.stats.bytes.Load(),
		Drains:         w.stats.drains.Load(),
		Limited:        w.stats.limited.Load(),
		Timeouts:       w.stats.timeouts.Load(),
		SendErrors:     w.stats.sendErrors.Load(),
	}
	for _, r := range w.readers {
		if r.IsLocal() {
			s.LocalReaders++
		}
	}
	if c, ok := w.history.Min(); ok {
		s.MinSequence = uint64(c.SequenceNumber)
	}
	if c, ok := w.history.Max(); ok {
		s.MaxSequence = uint64(c.SequenceNumber)
	}
	return s
}
