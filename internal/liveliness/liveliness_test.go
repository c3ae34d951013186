package liveliness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/rtps/pkg/guid"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func wguid(p, e byte) guid.GUID {
	return guid.New(guid.Prefix{p}, guid.EntityID{0, 0, e, 0x02})
}

func TestLeaseExpiry(t *testing.T) {
	c := &clock{now: time.Unix(1000, 0)}
	tr := New(WithClock(c.Now))
	a, b, inf := wguid(1, 1), wguid(1, 2), wguid(1, 3)
	tr.Assert(a, Automatic, time.Second)
	tr.Assert(b, ManualByTopic, 3*time.Second)
	tr.Assert(inf, Automatic, Infinite)

	c.Advance(2 * time.Second)
	if tr.Alive(a, c.Now()) || !tr.Alive(b, c.Now()) || !tr.Alive(inf, c.Now()) {
		t.Fatalf("unexpected liveliness")
	}
	if exp := tr.Expired(c.Now()); len(exp) != 1 || exp[0] != a {
		t.Fatalf("expired = %v", exp)
	}
	if tr.Alive(wguid(9, 9), c.Now()) {
		t.Fatalf("unknown writer reported alive")
	}
}

func TestAssertParticipantSkipsManualByTopic(t *testing.T) {
	c := &clock{now: time.Unix(1000, 0)}
	tr := New(WithClock(c.Now))
	auto, topic, other := wguid(1, 1), wguid(1, 2), wguid(2, 1)
	tr.Assert(auto, Automatic, time.Second)
	tr.Assert(topic, ManualByTopic, time.Second)
	tr.Assert(other, ManualByParticipant, time.Second)
	c.Advance(900 * time.Millisecond)
	if n := tr.AssertParticipant(guid.Prefix{1}); n != 1 {
		t.Fatalf("refreshed %d, want 1", n)
	}
	c.Advance(500 * time.Millisecond)
	if !tr.Alive(auto, c.Now()) || tr.Alive(topic, c.Now()) || tr.Alive(other, c.Now()) {
		t.Fatalf("participant assertion applied wrongly")
	}
}

func TestRunReportsLostOnce(t *testing.T) {
	c := &clock{now: time.Unix(1000, 0)}
	tr := New(WithClock(c.Now))
	w := wguid(1, 1)
	tr.Assert(w, Automatic, time.Millisecond)
	c.Advance(time.Second)
	lost := make(chan guid.GUID, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx, time.Millisecond, func(g guid.GUID) { lost <- g })
		close(done)
	}()
	select {
	case g := <-lost:
		if g != w {
			t.Fatalf("lost %s", g)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no loss reported")
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
	if len(lost) != 0 {
		t.Fatalf("loss reported more than once")
	}
	if _, ok := ParseKind("manual-by-topic"); !ok {
		t.Fatalf("parse kind")
	}
}
