package message

import (
	"encoding/binary"
	"time"

	"github.com/rzbill/rtps/pkg/guid"
)

const (
	// HeaderSize is the fixed message header length.
	HeaderSize = 20
	// SubmessageHeaderSize is the fixed submessage header length.
	SubmessageHeaderSize = 4
	// DefaultMaxMessageSize keeps messages within one UDP datagram.
	DefaultMaxMessageSize = 65500

	IDInfoTS   byte = 0x09
	IDData     byte = 0x15
	IDDataFrag byte = 0x16

	flagLittleEndian byte = 0x01
	flagInlineQos    byte = 0x02
	flagData         byte = 0x04
	flagKey          byte = 0x08
	flagFragKey      byte = 0x04

	pidSentinel   uint16 = 0x0001
	pidKeyHash    uint16 = 0x0070
	pidStatusInfo uint16 = 0x0071

	dataFixedLen     = 20
	dataFragFixedLen = 32

	// the submessage length field is 16 bits wide
	maxSubmessageBody = 0xffff
	// key hash, status info and sentinel
	maxInlineQosLen = 4 + 16 + 4 + 4 + 4
)

var (
	protocolMagic   = [4]byte{'R', 'T', 'P', 'S'}
	ProtocolVersion = [2]byte{2, 3}
)

var le = binary.LittleEndian

func appendHeader(b []byte, prefix guid.Prefix) []byte {
	b = append(b, protocolMagic[:]...)
	b = append(b, ProtocolVersion[:]...)
	b = append(b, guid.VendorID[:]...)
	return append(b, prefix[:]...)
}

// MaxFragmentSize returns the largest fragment that fits, with inline QoS
// and a timestamp, in a message of maxMessageSize bytes.
func MaxFragmentSize(maxMessageSize int) uint16 {
	if maxMessageSize <= HeaderSize {
		maxMessageSize = DefaultMaxMessageSize
	}
	n := maxMessageSize - HeaderSize - infoTSSize() - SubmessageHeaderSize - dataFragFixedLen - maxInlineQosLen
	n = min(n, maxSubmessageBody-dataFragFixedLen-maxInlineQosLen)
	n &^= 3
	if n < 4 {
		return 4
	}
	return uint16(n)
}

func appendSubmessageHeader(b []byte, id, flags byte, length int) []byte {
	b = append(b, id, flags|flagLittleEndian)
	return le.AppendUint16(b, uint16(length))
}

func appendSequence(b []byte, seq uint64) []byte {
	b = le.AppendUint32(b, uint32(seq>>32))
	return le.AppendUint32(b, uint32(seq))
}

// rtpsTime encodes t as seconds plus 2^-32 fractions.
func appendTime(b []byte, t time.Time) []byte {
	sec := t.Unix()
	frac := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	b = le.AppendUint32(b, uint32(int32(sec)))
	return le.AppendUint32(b, uint32(frac))
}

func readTime(b []byte) time.Time {
	sec := int64(int32(le.Uint32(b)))
	frac := uint64(le.Uint32(b[4:]))
	return time.Unix(sec, int64(frac*uint64(time.Second)>>32))
}

func pad4(n int) int { return (4 - n%4) % 4 }
