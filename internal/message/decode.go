package message

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/rtps/internal/cache"
	"github.com/rzbill/rtps/pkg/guid"
)

// ErrMalformed reports a message that cannot be parsed.
var ErrMalformed = errors.New("malformed message")

// Message is a decoded datagram.
type Message struct {
	Prefix      guid.Prefix
	Version     [2]byte
	Vendor      [2]byte
	Submessages []Submessage
}

// Submessage is a decoded DATA or DATA_FRAG. Payload aliases the input.
type Submessage struct {
	ID             byte
	Flags          byte
	ReaderID       guid.EntityID
	WriterID       guid.EntityID
	Sequence       cache.SequenceNumber
	Kind           cache.Kind
	InstanceHandle cache.InstanceHandle
	Timestamp      time.Time

	// DATA_FRAG only
	FragmentStart uint32
	FragmentSize  uint16
	SampleSize    uint32

	Payload []byte
}

// WriterGUID combines the message prefix with the writer entity.
func (m *Message) WriterGUID(s Submessage) guid.GUID { return guid.New(m.Prefix, s.WriterID) }

// Decode parses msg. Unknown submessages are skipped.
func Decode(msg []byte) (*Message, error) {
	if len(msg) < HeaderSize || [4]byte(msg[:4]) != protocolMagic {
		return nil, errors.Wrap(ErrMalformed, "bad header")
	}
	m := &Message{}
	copy(m.Version[:], msg[4:6])
	copy(m.Vendor[:], msg[6:8])
	copy(m.Prefix[:], msg[8:20])
	var ts time.Time
	b := msg[HeaderSize:]
	for len(b) > 0 {
		if len(b) < SubmessageHeaderSize {
			return nil, errors.Wrap(ErrMalformed, "truncated submessage header")
		}
		id, flags := b[0], b[1]
		n := int(le.Uint16(b[2:4]))
		b = b[SubmessageHeaderSize:]
		if n > len(b) {
			return nil, errors.Wrapf(ErrMalformed, "submessage 0x%02x length %d exceeds %d", id, n, len(b))
		}
		body := b[:n]
		b = b[n:]
		switch id {
		case IDInfoTS:
			if len(body) < 8 {
				return nil, errors.Wrap(ErrMalformed, "short INFO_TS")
			}
			ts = readTime(body)
		case IDData, IDDataFrag:
			s, err := decodeData(id, flags, body)
			if err != nil {
				return nil, err
			}
			s.Timestamp = ts
			m.Submessages = append(m.Submessages, s)
		}
	}
	return m, nil
}

func decodeData(id, flags byte, body []byte) (Submessage, error) {
	fixed := dataFixedLen
	if id == IDDataFrag {
		fixed = dataFragFixedLen
	}
	if len(body) < fixed {
		return Submessage{}, errors.Wrapf(ErrMalformed, "short submessage 0x%02x", id)
	}
	s := Submessage{ID: id, Flags: flags}
	copy(s.ReaderID[:], body[4:8])
	copy(s.WriterID[:], body[8:12])
	s.Sequence = cache.SequenceNumber(uint64(le.Uint32(body[12:16]))<<32 | uint64(le.Uint32(body[16:20])))
	rest := body[fixed:]
	if id == IDDataFrag {
		s.FragmentStart = le.Uint32(body[20:24])
		s.FragmentSize = le.Uint16(body[26:28])
		s.SampleSize = le.Uint32(body[28:32])
		if s.FragmentStart == 0 || s.FragmentSize == 0 {
			return Submessage{}, errors.Wrap(ErrMalformed, "bad fragment numbering")
		}
	}
	if flags&flagInlineQos != 0 {
		var err error
		if rest, err = s.decodeInlineQos(rest); err != nil {
			return Submessage{}, err
		}
	}
	switch {
	case id == IDDataFrag:
		end := int(s.FragmentSize)
		if last := s.SampleSize - (s.FragmentStart-1)*uint32(s.FragmentSize); last < uint32(end) {
			end = int(last)
		}
		if end > len(rest) {
			return Submessage{}, errors.Wrap(ErrMalformed, "short fragment")
		}
		s.Payload = rest[:end]
	case flags&flagData != 0:
		pad := int(le.Uint16(body[0:2]) & 0x3)
		if pad > len(rest) {
			return Submessage{}, errors.Wrap(ErrMalformed, "bad padding")
		}
		s.Payload = rest[:len(rest)-pad]
	}
	return s, nil
}

func (s *Submessage) decodeInlineQos(b []byte) ([]byte, error) {
	for {
		if len(b) < 4 {
			return nil, errors.Wrap(ErrMalformed, "unterminated inline qos")
		}
		pid, n := le.Uint16(b), int(le.Uint16(b[2:]))
		b = b[4:]
		if pid == pidSentinel {
			return b, nil
		}
		if n > len(b) {
			return nil, errors.Wrap(ErrMalformed, "short parameter")
		}
		switch pid {
		case pidKeyHash:
			copy(s.InstanceHandle[:], b[:n])
		case pidStatusInfo:
			if n == 4 {
				s.Kind = kindFromStatus(b[3])
			}
		}
		b = b[n:]
	}
}
