package runtime

import (
	"context"
	"encoding/hex"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/rtps/internal/asyncsender"
	"github.com/rzbill/rtps/internal/cache"
	cfgpkg "github.com/rzbill/rtps/internal/config"
	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/internal/flowcontrol"
	"github.com/rzbill/rtps/internal/history"
	"github.com/rzbill/rtps/internal/liveliness"
	"github.com/rzbill/rtps/internal/locator"
	"github.com/rzbill/rtps/internal/message"
	"github.com/rzbill/rtps/internal/persistence"
	pebblestore "github.com/rzbill/rtps/internal/storage/pebble"
	"github.com/rzbill/rtps/internal/transport"
	grpctransport "github.com/rzbill/rtps/internal/transport/grpc"
	"github.com/rzbill/rtps/internal/transport/udp"
	"github.com/rzbill/rtps/internal/writer"
	"github.com/rzbill/rtps/pkg/guid"
	"github.com/rzbill/rtps/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
	// GRPCDialOptions are passed to the gRPC client transport, e.g. a
	// bufconn dialer in tests.
	GRPCDialOptions []grpctransport.Option
}

// SampleHandler observes DATA and DATA_FRAG submessages received from the
// network.
type SampleHandler func(writer guid.GUID, s message.Submessage)

// Runtime wires storage, the shared sender, liveliness, flow control and
// transports for one participant.
type Runtime struct {
	config cfgpkg.Config
	logger log.Logger
	prefix guid.Prefix

	db         *pebblestore.DB
	store      *persistence.Store
	sender     *asyncsender.Sender
	liveliness *liveliness.Tracker
	flow       *flowcontrol.Registry

	transport *transport.Multi
	loopback  *transport.Loopback
	udp       *udp.Transport

	mu        sync.RWMutex
	writers   map[guid.GUID]*writer.Writer
	readers   map[guid.GUID]locator.LocalReader
	handlers  []SampleHandler
	entityKey atomic.Uint32

	received atomic.Uint64
	rejected atomic.Uint64

	opened time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Open initializes the storage, starts the shared sender and the transports
// and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	prefix, err := participantPrefix(cfg.Participant.Prefix)
	if err != nil {
		return nil, err
	}
	fsync, _ := pebblestore.ParseFsyncMode(cfg.Storage.Fsync)
	db, err := pebblestore.Open(pebblestore.Options{DataDir: cfg.StorePath(), Fsync: fsync, FsyncInterval: cfg.Storage.FsyncInterval.Std()})
	if err != nil {
		return nil, err
	}
	store, err := persistence.New(db, persistence.Options{
		CompressThreshold: int(cfg.Storage.CompressThreshold.Bytes()),
		Logger:            logger.WithComponent("persistence"),
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		config:     cfg,
		logger:     logger.WithComponent("runtime").With(log.Stringer("participant", prefix)),
		prefix:     prefix,
		db:         db,
		store:      store,
		sender:     asyncsender.New(asyncsender.Options{Workers: cfg.Sender.Workers, Logger: logger}),
		liveliness: liveliness.New(liveliness.WithLogger(logger.WithComponent("liveliness"))),
		flow:       flowcontrol.NewRegistry(),
		transport:  transport.NewMulti(),
		loopback:   transport.NewLoopback(),
		writers:    make(map[guid.GUID]*writer.Writer),
		readers:    make(map[guid.GUID]locator.LocalReader),
		opened:     time.Now(),
		cancel:     cancel,
	}
	if err := r.openFlowControllers(); err != nil {
		r.abort()
		return nil, err
	}
	if err := r.openTransports(ctx, opts); err != nil {
		r.abort()
		return nil, err
	}
	r.sender.Start(ctx)
	if period := cfg.Participant.LivelinessCheck.Std(); period > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.liveliness.Run(ctx, period, nil)
		}()
	}
	r.logger.Info("runtime opened", log.Str("store", cfg.StorePath()), log.Int("sender_workers", r.sender.Workers()))
	return r, nil
}

func participantPrefix(s string) (guid.Prefix, error) {
	var p guid.Prefix
	if s == "" {
		return guid.NewGenerator().NextPrefix(), nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(p) {
		return p, errs.Precondition("runtime: participant prefix %q is not 12 hex bytes", s)
	}
	copy(p[:], b)
	return p, nil
}

func (r *Runtime) openFlowControllers() error {
	for _, fc := range r.config.FlowControllers {
		c, err := buildController(fc)
		if err != nil {
			return err
		}
		if err := r.flow.Register(fc.Name, c); err != nil {
			return err
		}
	}
	return nil
}

func buildController(fc cfgpkg.FlowControllerConfig) (flowcontrol.Controller, error) {
	switch fc.Kind {
	case "throughput":
		return flowcontrol.NewThroughput(int(fc.BytesPerPeriod.Bytes()), fc.Period.Std()), nil
	case "item-limit":
		return flowcontrol.NewItemLimit(fc.MaxItems), nil
	case "priority":
		return flowcontrol.NewPriority(fc.Expr)
	}
	return nil, errs.Precondition("runtime: flow controller %q: unknown kind %q", fc.Name, fc.Kind)
}

func (r *Runtime) openTransports(ctx context.Context, opts Options) error {
	r.transport.Route(r.loopback, locator.KindSHM)
	gopts := append([]grpctransport.Option{grpctransport.WithLogger(r.logger)}, opts.GRPCDialOptions...)
	r.transport.Route(grpctransport.New(gopts...), locator.KindTCPv4, locator.KindTCPv6)

	if addr := r.config.Transport.UDPListen; addr != "" {
		u, err := udp.Listen(addr, r.logger)
		if err != nil {
			return err
		}
		r.udp = u
		r.transport.Route(u, locator.KindUDPv4)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := u.Serve(ctx, r.receive); err != nil {
				r.logger.Error("udp receive stopped", log.Err(err))
			}
		}()
	}
	return nil
}

func (r *Runtime) abort() {
	r.cancel()
	_ = r.transport.Close()
	r.wg.Wait()
	_ = r.store.Close()
	_ = r.db.Close()
}

// Prefix is the participant GUID prefix.
func (r *Runtime) Prefix() guid.Prefix { return r.prefix }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Sender exposes the shared asynchronous sender.
func (r *Runtime) Sender() *asyncsender.Sender { return r.sender }

// Liveliness exposes the liveliness tracker.
func (r *Runtime) Liveliness() *liveliness.Tracker { return r.liveliness }

// Loopback is the in-process transport, reached through shm locators.
func (r *Runtime) Loopback() *transport.Loopback { return r.loopback }

// UDPLocator is the unicast locator of the UDP transport, if listening.
func (r *Runtime) UDPLocator() (locator.Locator, bool) {
	if r.udp == nil {
		return locator.Invalid, false
	}
	return r.udp.Locator(), true
}

// WriterOptions returns writer options built from the configured defaults.
func (r *Runtime) WriterOptions(topic string) (writer.Options, error) {
	d := r.config.Writer
	o := writer.DefaultOptions()
	o.Topic = topic
	var ok bool
	if o.Mode, ok = writer.ParseMode(d.Mode); !ok {
		return o, errs.Precondition("runtime: writer mode %q", d.Mode)
	}
	if o.Durability, ok = writer.ParseDurability(d.Durability); !ok {
		return o, errs.Precondition("runtime: writer durability %q", d.Durability)
	}
	o.History = history.DefaultAttributes()
	if d.HistoryDepth > 0 {
		o.History.Depth = d.HistoryDepth
	}
	if d.MaxSamples > 0 {
		o.History.MaxSamples = d.MaxSamples
	}
	if d.PayloadMaxSize > 0 {
		o.History.PayloadMaxSize = uint32(d.PayloadMaxSize.Bytes())
	}
	o.FragmentSize = uint16(d.FragmentSize.Bytes())
	o.MaxBatchPayloadSize = int(d.MaxBatchPayloadSize.Bytes())
	o.MaxBlockingTime = d.MaxBlockingTime.Std()
	o.MaxMessageSize = int(r.config.Transport.MaxMessageSize.Bytes())
	o.MatchedReaders.Maximum = d.MaxMatchedReaders
	o.SeparateSending = d.SeparateSending
	o.FlowControllers = append([]string(nil), d.FlowControllers...)
	for _, s := range d.FixedLocators {
		l, err := locator.Parse(s)
		if err != nil {
			return o, errs.Precondition("runtime: fixed locator: %v", err)
		}
		o.FixedLocators = append(o.FixedLocators, l)
	}
	return o, nil
}

// CreateWriter creates and registers a writer. An unknown GUID in opts is
// replaced by a fresh entity of this participant.
func (r *Runtime) CreateWriter(opts writer.Options) (*writer.Writer, error) {
	if r.closed.Load() {
		return nil, errs.ErrClosed
	}
	if opts.GUID.IsUnknown() {
		kind := guid.KindWriterNoKey
		if opts.Keyed {
			kind = guid.KindWriterWithKey
		}
		opts.GUID = guid.New(r.prefix, guid.NewEntityID(r.entityKey.Add(1), kind))
	}
	deps := writer.Deps{
		Transport:  r.transport,
		Scheduler:  r.sender,
		Liveliness: r.liveliness,
		Local:      r,
		Flow:       r.flow,
		Logger:     r.logger,
	}
	if opts.Durability == writer.Persistent {
		deps.Store = r.store
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.writers[opts.GUID]; ok {
		return nil, errs.Precondition("runtime: writer %s already exists", opts.GUID)
	}
	w, err := writer.New(opts, deps)
	if err != nil {
		return nil, err
	}
	r.writers[opts.GUID] = w
	r.logger.Info("writer created", log.Stringer("writer", opts.GUID), log.Str("topic", opts.Topic),
		log.Stringer("mode", opts.Mode), log.Stringer("durability", opts.Durability))
	return w, nil
}

// Writer returns a registered writer.
func (r *Runtime) Writer(g guid.GUID) (*writer.Writer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.writers[g]
	return w, ok
}

// Writers lists registered writers ordered by GUID.
func (r *Runtime) Writers() []*writer.Writer {
	r.mu.RLock()
	out := make([]*writer.Writer, 0, len(r.writers))
	for _, w := range r.writers {
		out = append(out, w)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GUID().Hex() < out[j].GUID().Hex() })
	return out
}

// DeleteWriter closes and unregisters a writer.
func (r *Runtime) DeleteWriter(g guid.GUID) error {
	r.mu.Lock()
	w, ok := r.writers[g]
	delete(r.writers, g)
	r.mu.Unlock()
	if !ok {
		return errs.Precondition("runtime: writer %s not found", g)
	}
	return w.Close()
}

// RegisterLocalReader makes a reader of this participant reachable for
// intraprocess delivery.
func (r *Runtime) RegisterLocalReader(g guid.GUID, lr locator.LocalReader) error {
	if g.Prefix != r.prefix {
		return errs.Precondition("runtime: reader %s belongs to another participant", g)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[g] = lr
	return nil
}

// UnregisterLocalReader removes a local reader.
func (r *Runtime) UnregisterLocalReader(g guid.GUID) {
	r.mu.Lock()
	delete(r.readers, g)
	r.mu.Unlock()
}

// IsLocal implements locator.LocalResolver: readers of this participant
// are served in-process.
func (r *Runtime) IsLocal(g guid.GUID) bool { return g.Prefix == r.prefix }

// FindLocalReader implements locator.LocalResolver.
func (r *Runtime) FindLocalReader(g guid.GUID) (locator.LocalReader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lr, ok := r.readers[g]
	return lr, ok
}

// OnSample registers h for every sample received from the network.
func (r *Runtime) OnSample(h SampleHandler) {
	r.mu.Lock()
	r.handlers = append(r.handlers, h)
	r.mu.Unlock()
}

// Deliver implements the gRPC transport receiver.
func (r *Runtime) Deliver(_ context.Context, msg []byte) error {
	if r.closed.Load() {
		return errs.ErrClosed
	}
	return r.dispatch(msg)
}

func (r *Runtime) receive(msg []byte) {
	if err := r.dispatch(msg); err != nil {
		r.logger.Debug("dropped malformed message", log.Err(err))
	}
}

func (r *Runtime) dispatch(msg []byte) error {
	m, err := message.Decode(msg)
	if err != nil {
		r.rejected.Add(1)
		return err
	}
	r.received.Add(1)
	r.mu.RLock()
	hs := r.handlers
	r.mu.RUnlock()
	for _, s := range m.Submessages {
		w := m.WriterGUID(s)
		for _, h := range hs {
			h(w, s)
		}
	}
	return nil
}

// Received returns the number of decoded and rejected network messages.
func (r *Runtime) Received() (decoded, rejected uint64) {
	return r.received.Load(), r.rejected.Load()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.closed.Load() {
		return errs.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, _, err := r.db.Last([]byte("w/"), []byte("w0")); err != nil {
		return errors.Wrap(err, "runtime: store")
	}
	return nil
}

// Close closes every writer, then the sender, the transports and finally
// the store.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.mu.Lock()
	writers := r.writers
	r.writers = make(map[guid.GUID]*writer.Writer)
	r.mu.Unlock()

	var err error
	for _, w := range writers {
		err = errors.CombineErrors(err, w.Close())
	}
	r.flow.DisableAll()
	err = errors.CombineErrors(err, r.sender.Close())
	r.cancel()
	err = errors.CombineErrors(err, r.transport.Close())
	r.wg.Wait()
	err = errors.CombineErrors(err, r.store.Close())
	err = errors.CombineErrors(err, r.db.Close())
	r.logger.Info("runtime closed", log.Dur("uptime", time.Since(r.opened)))
	return err
}

// ReaderFunc adapts a function to locator.LocalReader.
type ReaderFunc func(c *cache.Change) bool

func (f ReaderFunc) Deliver(c *cache.Change) bool { return f(c) }
