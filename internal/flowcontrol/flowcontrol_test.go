package flowcontrol

import (
	"testing"
	"time"

	"github.com/rzbill/rtps/internal/cache"
)

func items(sizes ...uint32) []Item {
	out := make([]Item, len(sizes))
	for i, s := range sizes {
		out[i] = Item{Change: &cache.Change{SequenceNumber: cache.SequenceNumber(i + 1)}, Size: s}
	}
	return out
}

func TestItemLimit(t *testing.T) {
	c := NewItemLimit(2)
	if got := c.Apply(items(1, 1, 1)); len(got) != 2 {
		t.Fatalf("admitted %d, want 2", len(got))
	}
	if got := c.Apply(items(1)); len(got) != 1 {
		t.Fatalf("admitted %d, want 1", len(got))
	}
	c.Disable()
	if got := c.Apply(items(1)); len(got) != 0 {
		t.Fatalf("disabled controller admitted %d", len(got))
	}
}

func TestThroughputStopsAtFirstMisfit(t *testing.T) {
	c := NewThroughput(100, time.Hour)
	got := c.Apply(items(40, 40, 30, 10))
	if len(got) != 2 {
		t.Fatalf("admitted %d, want 2 (order must be preserved)", len(got))
	}
	for _, it := range got {
		c.NotifySent(it)
	}
	if got := c.Apply(items(40)); len(got) != 0 {
		t.Fatalf("admitted %d after budget spent", len(got))
	}
	now := time.Now()
	if next := c.NextAvailable(now); next.Before(now) {
		t.Fatalf("next available %v before now", next)
	}
}

func TestThroughputClampsLargeItems(t *testing.T) {
	c := NewThroughput(10, time.Hour)
	if got := c.Apply(items(1000)); len(got) != 1 {
		t.Fatalf("oversized item should pass on a full bucket")
	}
}

func TestPriorityStableSort(t *testing.T) {
	p, err := NewPriority("size > 10 ? 1 : 0")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := p.Apply(items(50, 5, 60, 6))
	want := []cache.SequenceNumber{2, 4, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("len = %d", len(got))
	}
	for i := range want {
		if got[i].Change.SequenceNumber != want[i] {
			t.Fatalf("order[%d] = %d, want %d", i, got[i].Change.SequenceNumber, want[i])
		}
	}
}

func TestPriorityRejectsNonInt(t *testing.T) {
	if _, err := NewPriority("size > 10"); err == nil {
		t.Fatalf("bool expression should be rejected")
	}
	if _, err := NewPriority(""); err == nil {
		t.Fatalf("empty expression should be rejected")
	}
	if _, err := NewPriority("nope + 1"); err == nil {
		t.Fatalf("unknown variable should be rejected")
	}
}

func TestChainReportsLimited(t *testing.T) {
	local := []Controller{NewItemLimit(3)}
	p, _ := NewPriority("-sequence")
	shared := []Controller{p}
	out, limited := Chain(items(1, 1, 1, 1, 1), local, shared)
	if !limited || len(out) != 3 {
		t.Fatalf("out=%d limited=%v", len(out), limited)
	}
	if out[0].Change.SequenceNumber != 3 {
		t.Fatalf("priority not applied after limit: first=%d", out[0].Change.SequenceNumber)
	}
	if _, limited := Chain(items(1), local, shared); limited {
		t.Fatalf("unexpected limit")
	}
}

func TestRegistryResolveOrder(t *testing.T) {
	r := NewRegistry()
	a := NewItemLimit(1)
	b := NewItemLimit(2)
	if err := r.Register("a", a); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("b", b); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("a", b); err == nil {
		t.Fatalf("duplicate register should fail")
	}
	got, err := r.Resolve([]string{"b", "a"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got[0] != Controller(a) || got[1] != Controller(b) {
		t.Fatalf("resolve order wrong")
	}
	if _, err := r.Resolve([]string{"missing"}); err == nil {
		t.Fatalf("missing controller should fail")
	}
	r.DisableAll()
	if len(a.Apply(items(1))) != 0 {
		t.Fatalf("DisableAll did not disable")
	}
}

func TestEarliestAvailable(t *testing.T) {
	now := time.Now()
	tp := NewThroughput(10, time.Hour)
	tp.NotifySent(Item{Size: 10})
	next := EarliestAvailable(now, []Controller{NewItemLimit(1)}, []Controller{tp})
	if !next.After(now) {
		t.Fatalf("expected throttled availability, got %v", next)
	}
	if got := EarliestAvailable(now, []Controller{NewItemLimit(1)}); !got.Equal(now) {
		t.Fatalf("unthrottled should be now")
	}
}
