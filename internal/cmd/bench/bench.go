// Package bench measures writer throughput against in-process readers and
// renders the results as a table.
package bench

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"

	"github.com/rzbill/rtps/internal/cache"
	cfgpkg "github.com/rzbill/rtps/internal/config"
	"github.com/rzbill/rtps/internal/history"
	"github.com/rzbill/rtps/internal/locator"
	"github.com/rzbill/rtps/internal/message"
	"github.com/rzbill/rtps/internal/runtime"
	"github.com/rzbill/rtps/internal/writer"
	"github.com/rzbill/rtps/pkg/guid"
	logpkg "github.com/rzbill/rtps/pkg/log"
)

// Options select the scenarios to run. Every combination of mode, payload
// size and reader count is one row.
type Options struct {
	Samples  int
	Payloads []datasize.ByteSize
	Readers  []int
	Modes    []string
	// Timeout bounds a single scenario.
	Timeout time.Duration
	Config  cfgpkg.Config
	Logger  logpkg.Logger
}

// DefaultOptions is a small matrix that finishes in a few seconds.
func DefaultOptions() Options {
	return Options{
		Samples:  1000,
		Payloads: []datasize.ByteSize{64 * datasize.B, 1 * datasize.KB, 16 * datasize.KB},
		Readers:  []int{1, 4},
		Modes:    []string{"sync", "async"},
		Timeout:  30 * time.Second,
		Config:   cfgpkg.Default(),
	}
}

// Result is one measured scenario.
type Result struct {
	Mode      string
	Payload   datasize.ByteSize
	Readers   int
	Written   int
	Delivered datasize.ByteSize
	Elapsed   time.Duration
}

// Rate is delivered samples per second across all readers.
func (r Result) Rate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Written*r.Readers) / r.Elapsed.Seconds()
}

// Run executes every scenario on a scratch participant and writes the table
// to out.
func Run(ctx context.Context, opts Options, out io.Writer) ([]Result, error) {
	if opts.Samples <= 0 {
		return nil, errors.New("bench: samples must be positive")
	}
	cfg := opts.Config
	if cfg.Storage.DataDir == "" {
		dir, err := os.MkdirTemp("", "rtps-bench-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)
		cfg.Storage.DataDir = dir
	}
	cfg.Storage.Fsync = "never"
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	b := &bench{rt: rt, samples: opts.Samples, timeout: opts.Timeout}
	var results []Result
	for _, mode := range opts.Modes {
		for _, size := range opts.Payloads {
			for _, n := range opts.Readers {
				res, err := b.simulate(ctx, mode, size, n)
				if err != nil {
					return results, errors.Wrapf(err, "bench: %s %s x%d", mode, size, n)
				}
				results = append(results, res)
			}
		}
	}
	if out != nil {
		Render(out, results)
	}
	return results, nil
}

// Render writes results as a table.
func Render(out io.Writer, results []Result) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Mode", "Payload", "Reader(s)", "Samples", "Delivered", "Time", "Samples/s"})
	table.SetCaption(true, "Writer to local and loopback readers")
	for _, r := range results {
		table.Append([]string{
			r.Mode,
			r.Payload.String(),
			fmt.Sprintf("%d", r.Readers),
			fmt.Sprintf("%d", r.Written),
			r.Delivered.HR(),
			r.Elapsed.Round(time.Microsecond).String(),
			fmt.Sprintf("%.0f", r.Rate()),
		})
	}
	table.Render()
}

type bench struct {
	rt      *runtime.Runtime
	samples int
	timeout time.Duration
	// port numbers loopback locators, unique per reader across scenarios
	port uint32
	key  uint32
}

// simulate writes samples to n readers, alternating local readers with
// readers reached over the loopback transport, and waits until every
// reader has received every byte.
func (b *bench) simulate(ctx context.Context, mode string, size datasize.ByteSize, n int) (Result, error) {
	opts, err := b.rt.WriterOptions("bench")
	if err != nil {
		return Result{}, err
	}
	m, ok := writer.ParseMode(mode)
	if !ok {
		return Result{}, errors.Newf("unknown mode %q", mode)
	}
	opts.Mode = m
	opts.Durability = writer.Volatile
	opts.History.Kind = history.KeepLast
	opts.History.Depth = b.samples
	opts.History.MaxSamples = b.samples
	opts.History.PayloadMaxSize = uint32(size.Bytes())
	w, err := b.rt.CreateWriter(opts)
	if err != nil {
		return Result{}, err
	}
	defer b.rt.DeleteWriter(w.GUID())

	var delivered atomic.Uint64
	for i := 0; i < n; i++ {
		b.key++
		id := guid.NewEntityID(0x8000+b.key, guid.KindReaderNoKey)
		if i%2 == 0 {
			reader := guid.New(b.rt.Prefix(), id)
			err := b.rt.RegisterLocalReader(reader, runtime.ReaderFunc(func(c *cache.Change) bool {
				delivered.Add(uint64(c.Payload.Length))
				return true
			}))
			if err != nil {
				return Result{}, err
			}
			defer b.rt.UnregisterLocalReader(reader)
			if _, err := w.MatchedReaderAdd(writer.ReaderProxyData{GUID: reader}); err != nil {
				return Result{}, err
			}
			continue
		}
		b.port++
		shm := locator.Locator{Kind: locator.KindSHM, Port: b.port}
		b.rt.Loopback().Listen(shm, func(msg []byte) {
			dm, err := message.Decode(msg)
			if err != nil {
				return
			}
			for _, s := range dm.Submessages {
				if s.ID == message.IDData || s.ID == message.IDDataFrag {
					delivered.Add(uint64(len(s.Payload)))
				}
			}
		})
		// a peer prefix keeps the reader remote
		peer := guid.New(guid.Prefix{0xbe, 0x4c, byte(b.port >> 8), byte(b.port)}, id)
		if _, err := w.MatchedReaderAdd(writer.ReaderProxyData{GUID: peer, Unicast: []locator.Locator{shm}}); err != nil {
			return Result{}, err
		}
	}

	payload := make([]byte, size.Bytes())
	_, _ = rand.Read(payload)
	want := uint64(b.samples) * uint64(n) * size.Bytes()

	timeout := b.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	for i := 0; i < b.samples; i++ {
		if _, err := w.Write(sctx, cache.KindAlive, cache.InstanceHandle{}, payload); err != nil {
			return Result{}, err
		}
	}
	for delivered.Load() < want {
		if sctx.Err() != nil {
			return Result{}, errors.Wrapf(sctx.Err(), "delivered %d of %d bytes", delivered.Load(), want)
		}
		time.Sleep(100 * time.Microsecond)
	}
	return Result{
		Mode:      mode,
		Payload:   size,
		Readers:   n,
		Written:   b.samples,
		Delivered: datasize.ByteSize(delivered.Load()),
		Elapsed:   time.Since(start),
	}, nil
}
