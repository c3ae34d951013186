package udp

import (
	"context"
	"testing"
	"time"

	"github.com/rzbill/rtps/internal/locator"
)

func TestSendReceive(t *testing.T) {
	rx, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer rx.Close()
	tx, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer tx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan []byte, 1)
	go func() { _ = rx.Serve(ctx, func(msg []byte) { got <- msg }) }()

	sendCtx, sendCancel := context.WithTimeout(context.Background(), time.Second)
	defer sendCancel()
	if err := tx.Send(sendCtx, []byte("RTPS-hello"), []locator.Locator{rx.Locator()}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-got:
		if string(msg) != "RTPS-hello" {
			t.Fatalf("got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no datagram received")
	}
}

func TestSkipsForeignKinds(t *testing.T) {
	tx, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer tx.Close()
	l := tx.Locator()
	l.Kind = locator.KindTCPv4
	if err := tx.Send(context.Background(), []byte("x"), []locator.Locator{l}); err != nil {
		t.Fatalf("send: %v", err)
	}
}
