package runtime

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rzbill/rtps/internal/cache"
	cfgpkg "github.com/rzbill/rtps/internal/config"
	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/internal/locator"
	"github.com/rzbill/rtps/internal/message"
	grpctransport "github.com/rzbill/rtps/internal/transport/grpc"
	"github.com/rzbill/rtps/internal/writer"
	"github.com/rzbill/rtps/pkg/guid"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Participant.LivelinessCheck = cfgpkg.Duration(10 * time.Millisecond)
	cfg.Writer.HistoryDepth = 100
	return cfg
}

func open(t *testing.T, cfg cfgpkg.Config, opts ...grpctransport.Option) *Runtime {
	t.Helper()
	rt, err := Open(Options{Config: cfg, GRPCDialOptions: opts})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type collector struct {
	mu   sync.Mutex
	seqs []cache.SequenceNumber
}

func (c *collector) add(seq cache.SequenceNumber) {
	c.mu.Lock()
	c.seqs = append(c.seqs, seq)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seqs)
}

func (c *collector) reader() ReaderFunc {
	return func(ch *cache.Change) bool {
		c.add(ch.SequenceNumber)
		return true
	}
}

func TestOpenCloseHealth(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); !errors.Is(err, errs.ErrClosed) {
		t.Fatalf("health after close = %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Writer.Mode = "sometimes"
	if _, err := Open(Options{Config: cfg}); !errors.Is(err, errs.ErrInvalidPrecondition) {
		t.Fatalf("err = %v", err)
	}
	cfg = testConfig(t)
	cfg.Participant.Prefix = "beef"
	if _, err := Open(Options{Config: cfg}); !errors.Is(err, errs.ErrInvalidPrecondition) {
		t.Fatalf("prefix err = %v", err)
	}
}

func TestWriterOptionsRejectsUnknownQos(t *testing.T) {
	rt := open(t, testConfig(t))
	rt.config.Writer.Mode = "sometimes"
	if _, err := rt.WriterOptions("orders"); !errors.Is(err, errs.ErrInvalidPrecondition) {
		t.Fatalf("mode err = %v", err)
	}
	rt.config.Writer.Mode = "async"
	rt.config.Writer.Durability = "forever"
	if _, err := rt.WriterOptions("orders"); !errors.Is(err, errs.ErrInvalidPrecondition) {
		t.Fatalf("durability err = %v", err)
	}
	rt.config.Writer.Durability = "transient_local"
	opts, err := rt.WriterOptions("orders")
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Mode != writer.Async || opts.Durability != writer.TransientLocal {
		t.Fatalf("mode %s durability %s", opts.Mode, opts.Durability)
	}
}

func TestAsyncWriterDeliversToLocalReader(t *testing.T) {
	cfg := testConfig(t)
	cfg.Writer.Mode = "async"
	rt := open(t, cfg)

	opts, err := rt.WriterOptions("orders")
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	w, err := rt.CreateWriter(opts)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.GUID().Prefix != rt.Prefix() {
		t.Fatalf("writer guid %s outside participant", w.GUID())
	}
	got := &collector{}
	reader := guid.New(rt.Prefix(), guid.NewEntityID(100, guid.KindReaderNoKey))
	if err := rt.RegisterLocalReader(reader, got.reader()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := w.MatchedReaderAdd(writer.ReaderProxyData{GUID: reader}); err != nil {
		t.Fatalf("match: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := w.Write(context.Background(), cache.KindAlive, cache.InstanceHandle{}, []byte("order")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	eventually(t, "local delivery", func() bool { return got.len() == 10 })

	if found, ok := rt.Writer(w.GUID()); !ok || found != w {
		t.Fatalf("writer lookup failed")
	}
	if len(rt.Writers()) != 1 {
		t.Fatalf("writers = %d", len(rt.Writers()))
	}
	if err := rt.DeleteWriter(w.GUID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := rt.Writer(w.GUID()); ok {
		t.Fatalf("writer still registered")
	}
}

func TestRegisterForeignReaderRejected(t *testing.T) {
	rt := open(t, testConfig(t))
	foreign := guid.New(guid.Prefix{9}, guid.NewEntityID(1, guid.KindReaderNoKey))
	if err := rt.RegisterLocalReader(foreign, (&collector{}).reader()); !errors.Is(err, errs.ErrInvalidPrecondition) {
		t.Fatalf("err = %v", err)
	}
	if rt.IsLocal(foreign) {
		t.Fatalf("foreign reader classified local")
	}
}

func TestPersistentWriterSurvivesReopen(t *testing.T) {
	cfg := testConfig(t)
	cfg.Participant.Prefix = "010f00000000000000000001"
	cfg.Writer.Durability = "persistent"

	rt, err := Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	opts, _ := rt.WriterOptions("ledger")
	w, err := rt.CreateWriter(opts)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := w.GUID()
	for i := 0; i < 3; i++ {
		if _, err := w.Write(context.Background(), cache.KindAlive, cache.InstanceHandle{}, []byte("entry")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt2 := open(t, cfg)
	w2, err := rt2.CreateWriter(opts)
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if w2.GUID() != id {
		t.Fatalf("guid changed: %s vs %s", w2.GUID(), id)
	}
	if w2.HistorySize() != 3 || w2.NextSequenceNumber() != 4 {
		t.Fatalf("restored size %d next %d", w2.HistorySize(), w2.NextSequenceNumber())
	}
}

func TestRemoteDeliveryOverGRPC(t *testing.T) {
	receiver := open(t, testConfig(t))
	samples := &collector{}
	var from guid.GUID
	var mu sync.Mutex
	receiver.OnSample(func(w guid.GUID, s message.Submessage) {
		mu.Lock()
		from = w
		mu.Unlock()
		samples.add(s.Sequence)
	})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	grpctransport.RegisterReceiver(srv, receiver)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	sender := open(t, testConfig(t), grpctransport.WithDialOptions(grpc.WithContextDialer(
		func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) })))
	opts, _ := sender.WriterOptions("telemetry")
	w, err := sender.CreateWriter(opts)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	remote := guid.New(receiver.Prefix(), guid.NewEntityID(7, guid.KindReaderNoKey))
	to := locator.FromIP(locator.KindTCPv4, net.ParseIP("127.0.0.1"), 7410)
	if _, err := w.MatchedReaderAdd(writer.ReaderProxyData{GUID: remote, Unicast: []locator.Locator{to}}); err != nil {
		t.Fatalf("match: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := w.Write(context.Background(), cache.KindAlive, cache.InstanceHandle{}, []byte("reading")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	eventually(t, "grpc delivery", func() bool { return samples.len() == 3 })
	mu.Lock()
	defer mu.Unlock()
	if from != w.GUID() {
		t.Fatalf("samples from %s, want %s", from, w.GUID())
	}
	if decoded, _ := receiver.Received(); decoded != 3 {
		t.Fatalf("decoded %d messages", decoded)
	}
}

func TestUDPLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transport.UDPListen = "127.0.0.1:0"
	rt := open(t, cfg)
	self, ok := rt.UDPLocator()
	if !ok {
		t.Fatalf("udp not listening")
	}
	samples := &collector{}
	rt.OnSample(func(_ guid.GUID, s message.Submessage) { samples.add(s.Sequence) })

	opts, _ := rt.WriterOptions("loop")
	w, err := rt.CreateWriter(opts)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// a reader of another participant reached over udp
	peer := guid.New(guid.Prefix{7, 7}, guid.NewEntityID(1, guid.KindReaderNoKey))
	if _, err := w.MatchedReaderAdd(writer.ReaderProxyData{GUID: peer, Unicast: []locator.Locator{self}}); err != nil {
		t.Fatalf("match: %v", err)
	}
	if _, err := w.Write(context.Background(), cache.KindAlive, cache.InstanceHandle{}, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	eventually(t, "udp delivery", func() bool { return samples.len() == 1 })
}

func TestSharedFlowControllerOverLoopback(t *testing.T) {
	cfg := testConfig(t)
	cfg.Writer.Mode = "async"
	cfg.Writer.FlowControllers = []string{"burst"}
	cfg.FlowControllers = []cfgpkg.FlowControllerConfig{{Name: "burst", Kind: "item-limit", MaxItems: 2}}
	rt := open(t, cfg)

	shm := locator.Locator{Kind: locator.KindSHM, Port: 1}
	got := &collector{}
	rt.Loopback().Listen(shm, func(msg []byte) {
		m, err := message.Decode(msg)
		if err != nil {
			return
		}
		for _, s := range m.Submessages {
			got.add(s.Sequence)
		}
	})
	opts, _ := rt.WriterOptions("bursty")
	w, err := rt.CreateWriter(opts)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	peer := guid.New(guid.Prefix{7, 7}, guid.NewEntityID(1, guid.KindReaderNoKey))
	if _, err := w.MatchedReaderAdd(writer.ReaderProxyData{GUID: peer, Unicast: []locator.Locator{shm}}); err != nil {
		t.Fatalf("match: %v", err)
	}
	for i := 0; i < 7; i++ {
		if _, err := w.Write(context.Background(), cache.KindAlive, cache.InstanceHandle{}, []byte("x")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	eventually(t, "all samples", func() bool { return got.len() == 7 })
	got.mu.Lock()
	defer got.mu.Unlock()
	for i, s := range got.seqs {
		if s != cache.SequenceNumber(i+1) {
			t.Fatalf("out of order: %v", got.seqs)
		}
	}
}
