package guid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Prefix identifies a participant.
type Prefix [12]byte

// EntityID identifies an endpoint within a participant. The last byte is the
// entity kind.
type EntityID [4]byte

// GUID identifies an endpoint globally.
type GUID struct {
	Prefix   Prefix
	EntityID EntityID
}

// Entity kinds (low byte of EntityID).
const (
	KindWriterWithKey    byte = 0x02
	KindWriterNoKey      byte = 0x03
	KindReaderNoKey      byte = 0x04
	KindReaderWithKey    byte = 0x07
	KindBuiltinWriterKey byte = 0xc2
	KindBuiltinReaderKey byte = 0xc7
)

// VendorID is stamped into the first two bytes of every minted prefix.
var VendorID = [2]byte{0x01, 0x0f}

var (
	// Unknown is the zero GUID.
	Unknown GUID
	// PrefixUnknown is the zero prefix.
	PrefixUnknown Prefix
	// EntityIDUnknown is the zero entity id.
	EntityIDUnknown EntityID

	EntityIDSPDPWriter = EntityID{0x00, 0x01, 0x00, KindBuiltinWriterKey}
	EntityIDSPDPReader = EntityID{0x00, 0x01, 0x00, KindBuiltinReaderKey}
)

// New builds a GUID from its parts.
func New(p Prefix, e EntityID) GUID { return GUID{Prefix: p, EntityID: e} }

// NewEntityID builds a user entity id from a 24-bit key and a kind byte.
func NewEntityID(key uint32, kind byte) EntityID {
	var e EntityID
	e[0] = byte(key >> 16)
	e[1] = byte(key >> 8)
	e[2] = byte(key)
	e[3] = kind
	return e
}

// Kind returns the entity kind byte.
func (e EntityID) Kind() byte { return e[3] }

// IsWriter reports whether the entity kind denotes a writer.
func (e EntityID) IsWriter() bool {
	switch e.Kind() {
	case KindWriterWithKey, KindWriterNoKey, KindBuiltinWriterKey:
		return true
	}
	return false
}

func (e EntityID) String() string { return hex.EncodeToString(e[:]) }

func (p Prefix) String() string {
	return hex.EncodeToString(p[:2]) + "." + hex.EncodeToString(p[2:8]) + "." + hex.EncodeToString(p[8:])
}

// IsUnknown reports whether g is the zero GUID.
func (g GUID) IsUnknown() bool { return g == Unknown }

func (g GUID) String() string { return g.Prefix.String() + "|" + g.EntityID.String() }

// Bytes returns the 16-byte wire representation.
func (g GUID) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, g.Prefix[:])
	copy(b[12:], g.EntityID[:])
	return b
}

// Hex returns a compact 32-character hex form, suitable for storage keys and URLs.
func (g GUID) Hex() string { return hex.EncodeToString(g.Bytes()) }

// FromBytes decodes a 16-byte GUID.
func FromBytes(b []byte) (GUID, error) {
	var g GUID
	if len(b) != 16 {
		return g, fmt.Errorf("guid: want 16 bytes, got %d", len(b))
	}
	copy(g.Prefix[:], b[:12])
	copy(g.EntityID[:], b[12:])
	return g, nil
}

// Parse accepts either the String form or the Hex form.
func Parse(s string) (GUID, error) {
	clean := strings.NewReplacer(".", "", "|", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return Unknown, fmt.Errorf("guid: %w", err)
	}
	return FromBytes(b)
}

// Generator mints participant prefixes that are unique per process and
// increasing within it: [vendor 2B][host/process 6B][counter 4B BE].
type Generator struct {
	mu      sync.Mutex
	host    [6]byte
	counter uint32
}

// NewGenerator seeds the host/process part from a random UUID.
func NewGenerator() *Generator {
	g := &Generator{}
	u := uuid.New()
	copy(g.host[:], u[:6])
	return g
}

// NextPrefix returns a new prefix.
func (g *Generator) NextPrefix() Prefix {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	var p Prefix
	copy(p[:2], VendorID[:])
	copy(p[2:8], g.host[:])
	binary.BigEndian.PutUint32(p[8:], g.counter)
	return p
}
