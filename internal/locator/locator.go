package locator

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind is the transport class of a locator. Values follow the RTPS wire
// encoding.
type Kind int32

const (
	KindInvalid  Kind = -1
	KindReserved Kind = 0
	KindUDPv4    Kind = 1
	KindUDPv6    Kind = 2
	KindTCPv4    Kind = 4
	KindTCPv6    Kind = 8
	KindSHM      Kind = 16
)

func (k Kind) String() string {
	switch k {
	case KindUDPv4:
		return "udpv4"
	case KindUDPv6:
		return "udpv6"
	case KindTCPv4:
		return "tcpv4"
	case KindTCPv6:
		return "tcpv6"
	case KindSHM:
		return "shm"
	case KindReserved:
		return "reserved"
	default:
		return "invalid"
	}
}

// Locator is a network address a reader can be reached at. IPv4 addresses
// occupy the last four bytes of Address.
type Locator struct {
	Kind    Kind
	Port    uint32
	Address [16]byte
}

// Invalid is the zero-value replacement used for "no locator".
var Invalid = Locator{Kind: KindInvalid}

// UDPv4 builds an IPv4 UDP locator.
func UDPv4(ip net.IP, port uint32) Locator {
	l := Locator{Kind: KindUDPv4, Port: port}
	if v4 := ip.To4(); v4 != nil {
		copy(l.Address[12:], v4)
	}
	return l
}

// FromIP builds a locator of the given kind, choosing the v6 variant for
// addresses that have no IPv4 form.
func FromIP(kind Kind, ip net.IP, port uint32) Locator {
	if v4 := ip.To4(); v4 != nil {
		if kind == KindUDPv6 {
			kind = KindUDPv4
		} else if kind == KindTCPv6 {
			kind = KindTCPv4
		}
		l := Locator{Kind: kind, Port: port}
		copy(l.Address[12:], v4)
		return l
	}
	if kind == KindUDPv4 {
		kind = KindUDPv6
	} else if kind == KindTCPv4 {
		kind = KindTCPv6
	}
	l := Locator{Kind: kind, Port: port}
	copy(l.Address[:], ip.To16())
	return l
}

// Parse reads the "kind://host:port" form produced by String.
func Parse(s string) (Locator, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Invalid, errors.Newf("locator %q: missing scheme", s)
	}
	var kind Kind
	switch strings.ToLower(scheme) {
	case "udpv4", "udp":
		kind = KindUDPv4
	case "udpv6":
		kind = KindUDPv6
	case "tcpv4", "tcp", "grpc":
		kind = KindTCPv4
	case "tcpv6":
		kind = KindTCPv6
	case "shm":
		kind = KindSHM
	default:
		return Invalid, errors.Newf("locator %q: unknown kind %q", s, scheme)
	}
	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return Invalid, errors.Wrapf(err, "locator %q", s)
	}
	port, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return Invalid, errors.Wrapf(err, "locator %q: port", s)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.LookupIP(host)
		if err != nil || len(addrs) == 0 {
			return Invalid, errors.Newf("locator %q: cannot resolve host %q", s, host)
		}
		ip = addrs[0]
	}
	return FromIP(kind, ip, uint32(port)), nil
}

// IsValid reports whether l can be sent to.
func (l Locator) IsValid() bool { return l.Kind > KindReserved }

// IP returns the address as a net.IP.
func (l Locator) IP() net.IP {
	if l.Kind == KindUDPv4 || l.Kind == KindTCPv4 {
		return net.IPv4(l.Address[12], l.Address[13], l.Address[14], l.Address[15])
	}
	ip := make(net.IP, net.IPv6len)
	copy(ip, l.Address[:])
	return ip
}

// IsMulticast reports whether the address is a multicast group.
func (l Locator) IsMulticast() bool { return l.IP().IsMulticast() }

// HostPort renders the address for net.Dial style APIs.
func (l Locator) HostPort() string {
	return net.JoinHostPort(l.IP().String(), strconv.FormatUint(uint64(l.Port), 10))
}

func (l Locator) String() string {
	if !l.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%s://%s", l.Kind, l.HostPort())
}
