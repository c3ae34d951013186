package asyncsender

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rzbill/rtps/pkg/guid"
)

type fakeWriter struct {
	id      guid.GUID
	drains  atomic.Int32
	block   chan struct{}
	onDrain func()
}

func (f *fakeWriter) ID() guid.GUID { return f.id }

func (f *fakeWriter) Drain() {
	f.drains.Add(1)
	if f.onDrain != nil {
		f.onDrain()
	}
	if f.block != nil {
		<-f.block
	}
}

func writer(n byte) *fakeWriter {
	return &fakeWriter{id: guid.New(guid.Prefix{n}, guid.EntityID{0, 0, n, 0x03})}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWakesCoalesce(t *testing.T) {
	s := New(Options{Workers: 1})
	w := writer(1)
	for i := 0; i < 5; i++ {
		if !s.Wake(w, time.Time{}) {
			t.Fatalf("wake %d failed", i)
		}
	}
	if !s.Pending(w) {
		t.Fatalf("expected pending before start")
	}
	s.Start(context.Background())
	defer s.Close()
	waitFor(t, func() bool { return w.drains.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := w.drains.Load(); n != 1 {
		t.Fatalf("drains = %d, want 1", n)
	}
	if st := s.Stats(); st.Coalesced != 4 || st.Wakes != 5 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSelfWakeDuringDrainRunsAgain(t *testing.T) {
	s := New(Options{Workers: 2})
	w := writer(2)
	w.onDrain = func() {
		if w.drains.Load() < 3 {
			s.Wake(w, time.Time{})
		}
	}
	s.Start(context.Background())
	defer s.Close()
	s.Wake(w, time.Time{})
	waitFor(t, func() bool { return w.drains.Load() == 3 })
}

func TestOneDrainPerWriterAtATime(t *testing.T) {
	s := New(Options{Workers: 4})
	s.Start(context.Background())
	defer s.Close()
	w := writer(3)
	var active, overlap atomic.Int32
	w.onDrain = func() {
		if active.Add(1) > 1 {
			overlap.Add(1)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.Wake(w, time.Time{})
			}
		}()
	}
	wg.Wait()
	waitFor(t, func() bool { return !s.Pending(w) })
	if overlap.Load() != 0 {
		t.Fatalf("concurrent drains of one writer observed")
	}
}

func TestWakeDeadline(t *testing.T) {
	s := New(Options{Workers: 1})
	w := writer(4)
	sh := s.shardFor(w.ID())
	sh.acquire(time.Time{})
	if s.Wake(w, time.Now().Add(10*time.Millisecond)) {
		t.Fatalf("wake should time out while the shard is held")
	}
	sh.release()
	if s.Stats().Timeouts != 1 {
		t.Fatalf("timeout not counted")
	}
	if !s.Wake(w, time.Now().Add(time.Second)) {
		t.Fatalf("wake should succeed")
	}
}

func TestWakeAtDelaysDrain(t *testing.T) {
	s := New(Options{})
	s.Start(context.Background())
	defer s.Close()
	w := writer(5)
	start := time.Now()
	s.WakeAt(w, start.Add(60*time.Millisecond))
	s.WakeAt(w, start.Add(time.Hour))
	time.Sleep(20 * time.Millisecond)
	if w.drains.Load() != 0 {
		t.Fatalf("drained before scheduled time")
	}
	waitFor(t, func() bool { return w.drains.Load() == 1 })
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("drained too early")
	}
}

func TestUnregisterWaitsForInFlightDrain(t *testing.T) {
	s := New(Options{})
	s.Start(context.Background())
	defer s.Close()
	w := writer(6)
	w.block = make(chan struct{})
	s.Wake(w, time.Time{})
	waitFor(t, func() bool { return w.drains.Load() == 1 })

	done := make(chan struct{})
	go func() {
		s.Unregister(w)
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("unregister returned while drain in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(w.block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("unregister did not return")
	}
}

func TestUnregisterCancelsPendingAndScheduled(t *testing.T) {
	s := New(Options{})
	w := writer(7)
	s.Wake(w, time.Time{})
	s.WakeAt(w, time.Now().Add(30*time.Millisecond))
	s.Unregister(w)
	s.Start(context.Background())
	defer s.Close()
	time.Sleep(60 * time.Millisecond)
	if w.drains.Load() != 0 {
		t.Fatalf("unregistered writer drained")
	}
}

func TestClosedSenderRejectsWakes(t *testing.T) {
	s := New(Options{})
	s.Start(context.Background())
	_ = s.Close()
	if s.Wake(writer(8), time.Time{}) {
		t.Fatalf("closed sender accepted wake")
	}
}
