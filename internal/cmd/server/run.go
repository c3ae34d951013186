package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rzbill/rtps/internal/cache"
	cfgpkg "github.com/rzbill/rtps/internal/config"
	"github.com/rzbill/rtps/internal/runtime"
	grpcserver "github.com/rzbill/rtps/internal/server/grpc"
	httpserver "github.com/rzbill/rtps/internal/server/http"
	"github.com/rzbill/rtps/internal/writer"
	"github.com/rzbill/rtps/pkg/guid"
	logpkg "github.com/rzbill/rtps/pkg/log"
)

// Options configure Run. Empty addresses fall back to the configuration.
type Options struct {
	Config   cfgpkg.Config
	GRPCAddr string
	HTTPAddr string
	// DemoInterval, when positive, runs a publisher writing one sample per
	// interval to a local reader.
	DemoInterval time.Duration
	Logger       logpkg.Logger
}

// NewLogger builds the process logger from cfg, falling back to text at
// the parsed (or info) level when the configuration is unusable.
func NewLogger(cfg logpkg.Config) logpkg.Logger {
	l, err := logpkg.ApplyConfig(&cfg)
	if err == nil {
		return l
	}
	lvl := logpkg.InfoLevel
	if p, e := logpkg.ParseLevel(cfg.Level); e == nil {
		lvl = p
	}
	return logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}), logpkg.WithOutput(logpkg.NewConsoleOutput()))
}

// Run starts the participant with its gRPC and admin HTTP servers and
// blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if opts.GRPCAddr != "" {
		cfg.Transport.GRPCListen = opts.GRPCAddr
	}
	if opts.HTTPAddr != "" {
		cfg.Admin.HTTPAddr = opts.HTTPAddr
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(cfg.Log)
	}
	// pebble logs through the standard library
	logpkg.RedirectStdLog(logger)

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("starting RTPS participant",
		logpkg.Stringer("prefix", rt.Prefix()),
		logpkg.Str("grpc", cfg.Transport.GRPCListen),
		logpkg.Str("udp", cfg.Transport.UDPListen),
		logpkg.Str("http", cfg.Admin.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir()),
		logpkg.Str("writer_mode", cfg.Writer.Mode),
	)

	var wg sync.WaitGroup
	if addr := cfg.Transport.GRPCListen; addr != "" {
		gsrv := grpcserver.New(rt)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gsrv.ListenAndServe(sctx, addr); err != nil && sctx.Err() == nil {
				logger.Error("grpc server stopped", logpkg.Err(err))
			}
		}()
	}
	if addr := cfg.Admin.HTTPAddr; addr != "" {
		hsrv := httpserver.New(rt, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hsrv.ListenAndServe(sctx, addr); err != nil && sctx.Err() == nil {
				logger.Error("http server stopped", logpkg.Err(err))
			}
		}()
	}
	if opts.DemoInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runDemo(sctx, rt, opts.DemoInterval, logger.WithComponent("demo")); err != nil {
				logger.Error("demo publisher stopped", logpkg.Err(err))
			}
		}()
	}

	<-sctx.Done()
	// servers shut down on sctx; wait for them before the runtime closes
	wg.Wait()
	return nil
}

// runDemo publishes a counter sample every interval to a local reader.
func runDemo(ctx context.Context, rt *runtime.Runtime, interval time.Duration, logger logpkg.Logger) error {
	opts, err := rt.WriterOptions("demo")
	if err != nil {
		return err
	}
	w, err := rt.CreateWriter(opts)
	if err != nil {
		return err
	}
	var received atomic.Uint64
	reader := guid.New(rt.Prefix(), guid.NewEntityID(0xfff0, guid.KindReaderNoKey))
	if err := rt.RegisterLocalReader(reader, runtime.ReaderFunc(func(c *cache.Change) bool {
		received.Add(1)
		return true
	})); err != nil {
		return err
	}
	defer rt.UnregisterLocalReader(reader)
	if _, err := w.MatchedReaderAdd(writer.ReaderProxyData{GUID: reader}); err != nil {
		return err
	}

	tick := time.NewTicker(interval)
	defer tick.Stop()
	var n uint64
	for {
		select {
		case <-ctx.Done():
			logger.Info("demo publisher done", logpkg.Uint64("written", n), logpkg.Uint64("received", received.Load()))
			return nil
		case <-tick.C:
			n++
			if _, err := w.Write(ctx, cache.KindAlive, cache.InstanceHandle{}, []byte(time.Now().Format(time.RFC3339Nano))); err != nil {
				logger.Warn("demo write failed", logpkg.Err(err))
				continue
			}
			if n%100 == 0 {
				logger.Debug("demo progress", logpkg.Uint64("written", n), logpkg.Uint64("received", received.Load()))
			}
		}
	}
}
