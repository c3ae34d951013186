package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/rtps/internal/errs"
	"github.com/rzbill/rtps/internal/locator"
)

func TestLoopbackDelivers(t *testing.T) {
	lb := NewLoopback()
	a := locator.UDPv4(net.ParseIP("127.0.0.1"), 7411)
	b := locator.UDPv4(net.ParseIP("127.0.0.1"), 7412)
	var got [][]byte
	lb.Listen(a, func(msg []byte) { got = append(got, msg) })
	msg := []byte("payload")
	if err := lb.Send(context.Background(), msg, []locator.Locator{a, b}); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg[0] = 'X'
	if len(got) != 1 || string(got[0]) != "payload" {
		t.Fatalf("got %q", got)
	}
	if m, _, d := lb.Counters(); m != 1 || d != 1 {
		t.Fatalf("counters m=%d d=%d", m, d)
	}
}

func TestLoopbackHonoursDeadline(t *testing.T) {
	lb := NewLoopback()
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	err := lb.Send(ctx, []byte("x"), nil)
	if !errors.Is(err, errs.ErrDeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	_ = lb.Close()
	if err := lb.Send(context.Background(), []byte("x"), nil); !errors.Is(err, errs.ErrClosed) {
		t.Fatalf("want closed, got %v", err)
	}
}

type recorder struct {
	sends [][]locator.Locator
	err   error
}

func (r *recorder) Send(_ context.Context, _ []byte, to []locator.Locator) error {
	r.sends = append(r.sends, to)
	return r.err
}

func (r *recorder) Close() error { return nil }

func TestMultiRoutesByKind(t *testing.T) {
	udp := &recorder{}
	tcp := &recorder{err: errors.New("boom")}
	m := NewMulti()
	m.Route(udp, locator.KindUDPv4, locator.KindUDPv6)
	m.Route(tcp, locator.KindTCPv4)
	to := []locator.Locator{
		locator.UDPv4(net.ParseIP("10.0.0.1"), 1),
		locator.FromIP(locator.KindTCPv4, net.ParseIP("10.0.0.2"), 2),
		locator.UDPv4(net.ParseIP("10.0.0.3"), 3),
		{Kind: locator.KindSHM, Port: 9},
	}
	err := m.Send(context.Background(), []byte("m"), to)
	if err == nil {
		t.Fatalf("expected combined error")
	}
	if len(udp.sends) != 1 || len(udp.sends[0]) != 2 {
		t.Fatalf("udp sends %v", udp.sends)
	}
	if len(tcp.sends) != 1 || len(tcp.sends[0]) != 1 {
		t.Fatalf("tcp sends %v", tcp.sends)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
