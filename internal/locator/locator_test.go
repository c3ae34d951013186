package locator

import (
	"net"
	"testing"

	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/pkg/guid"
)

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
		out  string
	}{
		{"udpv4://127.0.0.1:7411", KindUDPv4, "udpv4://127.0.0.1:7411"},
		{"udp://239.255.0.1:7400", KindUDPv4, "udpv4://239.255.0.1:7400"},
		{"grpc://10.0.0.2:9000", KindTCPv4, "tcpv4://10.0.0.2:9000"},
		{"udpv6://[::1]:7411", KindUDPv6, "udpv6://[::1]:7411"},
	}
	for _, tt := range tests {
		l, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.in, err)
		}
		if l.Kind != tt.kind || l.String() != tt.out {
			t.Fatalf("parse %q = %s (%s)", tt.in, l, l.Kind)
		}
	}
	for _, bad := range []string{"127.0.0.1:1", "foo://1.2.3.4:1", "udp://1.2.3.4:x"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("parse %q should fail", bad)
		}
	}
}

func TestMulticast(t *testing.T) {
	if !UDPv4(net.ParseIP("239.255.0.1"), 7400).IsMulticast() {
		t.Fatalf("expected multicast")
	}
	if UDPv4(net.ParseIP("10.0.0.1"), 7400).IsMulticast() {
		t.Fatalf("unexpected multicast")
	}
}

func reader(n byte) guid.GUID {
	return guid.New(guid.Prefix{n}, guid.EntityID{0, 0, 1, 0x07})
}

func TestReaderLocatorBoundsAndUpdate(t *testing.T) {
	r := NewReaderLocator(Limits{MaxUnicast: 2, MaxMulticast: 1})
	a := UDPv4(net.ParseIP("10.0.0.1"), 1)
	b := UDPv4(net.ParseIP("10.0.0.2"), 1)
	c := UDPv4(net.ParseIP("10.0.0.3"), 1)
	if dropped := r.Start(reader(1), []Locator{a, b, c, a}, nil, false, nil); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if len(r.Unicast()) != 2 {
		t.Fatalf("unicast = %v", r.Unicast())
	}
	if changed, _ := r.Update([]Locator{a, b}, nil, false); changed {
		t.Fatalf("identical update reported change")
	}
	if changed, _ := r.Update([]Locator{a}, nil, false); !changed {
		t.Fatalf("locator change not reported")
	}
	if changed, _ := r.Update([]Locator{a}, nil, true); !changed {
		t.Fatalf("inline qos change not reported")
	}
}

type fakeReader struct{ got []cache.SequenceNumber }

func (f *fakeReader) Deliver(c *cache.Change) bool {
	f.got = append(f.got, c.SequenceNumber)
	return true
}

type fakeResolver struct{ readers map[guid.GUID]*fakeReader }

func (f fakeResolver) IsLocal(g guid.GUID) bool { return g.Prefix[0] == 1 }

func (f fakeResolver) FindLocalReader(g guid.GUID) (LocalReader, bool) {
	r, ok := f.readers[g]
	if !ok {
		return nil, false
	}
	return r, true
}

func TestIntraprocessWatermark(t *testing.T) {
	res := fakeResolver{readers: map[guid.GUID]*fakeReader{}}
	r := NewReaderLocator(DefaultLimits)
	r.Start(reader(1), nil, nil, false, res)
	if !r.IsLocal() {
		t.Fatalf("expected local")
	}
	c := &cache.Change{SequenceNumber: 1}
	if r.DeliverIntraprocess(c) {
		t.Fatalf("delivered before reader registered")
	}
	fr := &fakeReader{}
	res.readers[reader(1)] = fr
	for _, seq := range []cache.SequenceNumber{1, 2, 2, 1, 3} {
		r.DeliverIntraprocess(&cache.Change{SequenceNumber: seq})
	}
	if len(fr.got) != 3 || fr.got[0] != 1 || fr.got[2] != 3 {
		t.Fatalf("delivered %v, want [1 2 3]", fr.got)
	}
}

func TestSelectorNarrowAndRestore(t *testing.T) {
	s := NewSelector()
	shared := UDPv4(net.ParseIP("239.255.0.1"), 7400)
	r1 := NewReaderLocator(DefaultLimits)
	r1.Start(reader(2), nil, []Locator{shared}, false, nil)
	r2 := NewReaderLocator(DefaultLimits)
	r2.Start(reader(3), nil, []Locator{shared}, false, nil)
	r3 := NewReaderLocator(DefaultLimits)
	r3.Start(reader(4), []Locator{UDPv4(net.ParseIP("10.0.0.4"), 7411)}, []Locator{shared}, false, nil)
	s.Add(r1)
	s.Add(r2)
	s.Add(r3)
	s.Add(r3)
	if s.Len() != 3 {
		t.Fatalf("len = %d", s.Len())
	}
	if got := s.Compute(); len(got) != 2 {
		t.Fatalf("selected = %v, want multicast + unicast of r3", got)
	}

	s.Reset(false)
	s.Enable(reader(4))
	if !s.Dirty() {
		t.Fatalf("expected dirty")
	}
	got := s.Compute()
	if len(got) != 1 || got[0].Port != 7411 {
		t.Fatalf("narrowed selection = %v", got)
	}
	if g := s.EnabledGUIDs(); len(g) != 1 || g[0] != reader(4) {
		t.Fatalf("enabled = %v", g)
	}

	s.Reset(true)
	if len(s.Compute()) != 2 {
		t.Fatalf("restore failed")
	}
	if !s.Remove(reader(4)) || s.Remove(reader(4)) {
		t.Fatalf("remove")
	}
	if got := s.Compute(); len(got) != 1 || got[0] != shared {
		t.Fatalf("after remove = %v", got)
	}
}
