package grpctransport

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/internal/locator"
	"github.com/rzbill/rtps/pkg/log"
)

// Option configures a Transport.
type Option func(*Transport)

// WithDialOptions appends dial options, e.g. a bufconn dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(t *Transport) { t.dialOpts = append(t.dialOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// Transport sends messages to TCP locators as gRPC calls.
type Transport struct {
	mu       sync.Mutex
	conns    map[string]*grpc.ClientConn
	dialOpts []grpc.DialOption
	logger   log.Logger
	closed   bool
}

// New returns a client transport. Connections are created lazily.
func New(opts ...Option) *Transport {
	t := &Transport{
		conns:    make(map[string]*grpc.ClientConn),
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		logger:   log.NewNopLogger(),
	}
	for _, o := range opts {
		o(t)
	}
	t.logger = t.logger.WithComponent("grpc-transport")
	return t
}

func (t *Transport) conn(addr string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errs.ErrClosed
	}
	if c, ok := t.conns[addr]; ok {
		return c, nil
	}
	c, err := grpc.NewClient("passthrough:///"+addr, t.dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "grpc: client for %s", addr)
	}
	t.conns[addr] = c
	t.logger.Debug("connection created", log.Str("addr", addr))
	return c, nil
}

// Send delivers msg to every TCP locator in to.
func (t *Transport) Send(ctx context.Context, msg []byte, to []locator.Locator) error {
	var err error
	for _, l := range to {
		if l.Kind != locator.KindTCPv4 && l.Kind != locator.KindTCPv6 {
			continue
		}
		c, cerr := t.conn(l.HostPort())
		if cerr != nil {
			return cerr
		}
		var out []byte
		ierr := c.Invoke(ctx, DeliverMethod, &msg, &out, grpc.CallContentSubtype(CodecName))
		if ierr != nil {
			if status.Code(ierr) == codes.DeadlineExceeded {
				return errs.Deadline("grpc: deliver to %s: %v", l, ierr)
			}
			err = errors.CombineErrors(err, errors.Wrapf(ierr, "grpc: deliver to %s", l))
		}
	}
	return err
}

// Health asks the peer at addr for its status.
func (t *Transport) Health(ctx context.Context, addr string) (string, error) {
	c, err := t.conn(addr)
	if err != nil {
		return "", err
	}
	in := []byte{}
	var out []byte
	if err := c.Invoke(ctx, HealthMethod, &in, &out, grpc.CallContentSubtype(CodecName)); err != nil {
		return "", errors.Wrap(err, "grpc: health")
	}
	return string(out), nil
}

// Close closes every cached connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	var err error
	for addr, c := range t.conns {
		err = errors.CombineErrors(err, c.Close())
		delete(t.conns, addr)
	}
	return err
}
