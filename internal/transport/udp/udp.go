// Package udp sends and receives messages over UDP datagrams.
package udp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/internal/locator"
	"github.com/rzbill/rtps/internal/transport"
	"github.com/rzbill/rtps/pkg/log"
)

// MaxDatagram is the largest payload read in one call.
const MaxDatagram = 65536

// Transport is a UDP socket used for both sending and receiving.
type Transport struct {
	conn   *net.UDPConn
	logger log.Logger

	// write deadlines are per socket
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Listen binds addr ("host:port", port 0 picks one).
func Listen(addr string, logger log.Logger) (*Transport, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "udp: resolve %q", addr)
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, errors.Wrapf(err, "udp: listen %q", addr)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Transport{conn: conn, logger: logger.WithComponent("udp")}, nil
}

// Locator returns the bound address as a locator.
func (t *Transport) Locator() locator.Locator {
	ua := t.conn.LocalAddr().(*net.UDPAddr)
	ip := ua.IP
	if ip.IsUnspecified() {
		ip = net.IPv4(127, 0, 0, 1)
	}
	return locator.FromIP(locator.KindUDPv4, ip, uint32(ua.Port))
}

// Send writes msg to every UDP locator in to.
func (t *Transport) Send(ctx context.Context, msg []byte, to []locator.Locator) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "udp: set deadline")
	}
	var err error
	for _, l := range to {
		if l.Kind != locator.KindUDPv4 && l.Kind != locator.KindUDPv6 {
			continue
		}
		if cerr := ctx.Err(); cerr != nil {
			return errs.Deadline("udp: %v", cerr)
		}
		_, werr := t.conn.WriteToUDP(msg, &net.UDPAddr{IP: l.IP(), Port: int(l.Port)})
		if werr != nil {
			var ne net.Error
			if errors.As(werr, &ne) && ne.Timeout() {
				return errs.Deadline("udp: write to %s: %v", l, werr)
			}
			err = errors.CombineErrors(err, errors.Wrapf(werr, "udp: write to %s", l))
		}
	}
	return err
}

// Serve reads datagrams and passes copies to h until ctx is done or the
// socket is closed.
func (t *Transport) Serve(ctx context.Context, h transport.Handler) error {
	go func() {
		<-ctx.Done()
		_ = t.conn.SetReadDeadline(time.Now())
	}()
	buf := make([]byte, MaxDatagram)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.logger.Warn("udp read failed", log.Err(err))
			continue
		}
		h(append([]byte(nil), buf[:n]...))
	}
}

// Close releases the socket.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() { err = t.conn.Close() })
	return err
}
