package persistence

import (
	"encoding/binary"

	"github.com/rzbill/rtps/pkg/guid"
)

var (
	writerPrefix = []byte("w/")
	metaSuffix   = []byte("/m")
	entrySeg     = []byte("/e/")
)

func appendWriter(dst []byte, w guid.GUID) []byte {
	dst = append(dst, writerPrefix...)
	return append(dst, w.Bytes()...)
}

// KeyMeta is the last-sequence key of a writer.
func KeyMeta(w guid.GUID) []byte {
	k := make([]byte, 0, 24)
	k = appendWriter(k, w)
	return append(k, metaSuffix...)
}

// KeyEntry is the record key of one change.
func KeyEntry(w guid.GUID, seq uint64) []byte {
	k := make([]byte, 0, 32)
	k = appendWriter(k, w)
	k = append(k, entrySeg...)
	return binary.BigEndian.AppendUint64(k, seq)
}

// entryBounds spans every record of a writer.
func entryBounds(w guid.GUID) (lower, upper []byte) {
	lower = KeyEntry(w, 0)
	upper = appendWriter(make([]byte, 0, 24), w)
	upper = append(upper, '/', 'e'+1)
	return lower, upper
}

// writerBounds spans every key of a writer.
func writerBounds(w guid.GUID) (lower, upper []byte) {
	lower = appendWriter(make([]byte, 0, 24), w)
	upper = append(append([]byte(nil), lower...), 0xff)
	return lower, upper
}

func seqFromKey(k []byte) uint64 {
	if len(k) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(k[len(k)-8:])
}
