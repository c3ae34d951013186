package message

import (
	"time"

	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/pkg/guid"
)

func inlineQosLen(c *cache.Change) int {
	n := 4 // sentinel
	if c.InstanceHandle.IsDefined() {
		n += 4 + 16
	}
	if c.Kind != cache.KindAlive {
		n += 4 + 4
	}
	return n
}

func appendInlineQos(b []byte, c *cache.Change) []byte {
	if c.InstanceHandle.IsDefined() {
		b = le.AppendUint16(b, pidKeyHash)
		b = le.AppendUint16(b, 16)
		b = append(b, c.InstanceHandle[:]...)
	}
	if c.Kind != cache.KindAlive {
		b = le.AppendUint16(b, pidStatusInfo)
		b = le.AppendUint16(b, 4)
		b = append(b, 0, 0, 0, statusInfo(c.Kind))
	}
	b = le.AppendUint16(b, pidSentinel)
	return le.AppendUint16(b, 0)
}

func statusInfo(k cache.Kind) byte {
	switch k {
	case cache.KindNotAliveDisposed:
		return 0x01
	case cache.KindNotAliveUnregistered:
		return 0x02
	case cache.KindNotAliveDisposedUnregistered:
		return 0x03
	default:
		return 0
	}
}

func kindFromStatus(s byte) cache.Kind {
	switch s & 0x03 {
	case 0x01:
		return cache.KindNotAliveDisposed
	case 0x02:
		return cache.KindNotAliveUnregistered
	case 0x03:
		return cache.KindNotAliveDisposedUnregistered
	default:
		return cache.KindAlive
	}
}

// inline QoS is always sent for disposals and when the reader asks for it.
func wantsInlineQos(c *cache.Change, expects bool) bool {
	return expects || c.Kind != cache.KindAlive
}

func infoTSSize() int { return SubmessageHeaderSize + 8 }

func appendInfoTS(b []byte, t time.Time) []byte {
	b = appendSubmessageHeader(b, IDInfoTS, 0, 8)
	return appendTime(b, t)
}

func dataSize(c *cache.Change, inlineQos bool) int {
	body := dataFixedLen + int(c.Payload.Length)
	if inlineQos {
		body += inlineQosLen(c)
	}
	return SubmessageHeaderSize + body + pad4(body)
}

func appendData(b []byte, reader guid.EntityID, c *cache.Change, inlineQos bool) []byte {
	payload := c.Payload.Bytes()
	body := dataFixedLen + len(payload)
	var flags byte
	if inlineQos {
		flags |= flagInlineQos
		body += inlineQosLen(c)
	}
	if len(payload) > 0 {
		flags |= flagData
	} else if c.Kind != cache.KindAlive {
		flags |= flagKey
	}
	p := pad4(body)
	b = appendSubmessageHeader(b, IDData, flags, body+p)
	// the low bits of the extra flags carry the padding length
	b = le.AppendUint16(b, uint16(p))
	b = le.AppendUint16(b, 16) // octets to inline qos
	b = append(b, reader[:]...)
	b = append(b, c.WriterGUID.EntityID[:]...)
	b = appendSequence(b, uint64(c.SequenceNumber))
	if inlineQos {
		b = appendInlineQos(b, c)
	}
	b = append(b, payload...)
	return append(b, make([]byte, p)...)
}

func dataFragSize(c *cache.Change, fragment uint32, inlineQos bool) int {
	body := dataFragFixedLen + len(c.Fragment(fragment))
	if inlineQos {
		body += inlineQosLen(c)
	}
	return SubmessageHeaderSize + body + pad4(body)
}

func appendDataFrag(b []byte, reader guid.EntityID, c *cache.Change, fragment uint32, inlineQos bool) []byte {
	frag := c.Fragment(fragment)
	body := dataFragFixedLen + len(frag)
	var flags byte
	if inlineQos {
		flags |= flagInlineQos
		body += inlineQosLen(c)
	}
	p := pad4(body)
	b = appendSubmessageHeader(b, IDDataFrag, flags, body+p)
	b = le.AppendUint16(b, 0)
	b = le.AppendUint16(b, 28)
	b = append(b, reader[:]...)
	b = append(b, c.WriterGUID.EntityID[:]...)
	b = appendSequence(b, uint64(c.SequenceNumber))
	b = le.AppendUint32(b, fragment)
	b = le.AppendUint16(b, 1)
	b = le.AppendUint16(b, c.FragmentSize())
	b = le.AppendUint32(b, c.Payload.Length)
	if inlineQos {
		b = appendInlineQos(b, c)
	}
	b = append(b, frag...)
	return append(b, make([]byte, p)...)
}
