// Package persistence stores writer histories in Pebble so durable writers
// can restore them after a restart.
//
// Keyspace (byte-wise sortable):
//
//	w/{guid_16}/m              last sequence number (8 bytes, big-endian)
//	w/{guid_16}/e/{seq_be8}    one record per change
//
// Records use the framing uvarint(len(header)) | header | payload |
// crc32c(header|payload). The header is msgpack; payloads at or above a
// threshold are zstd-compressed.
package persistence
