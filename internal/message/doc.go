// Package message frames changes into RTPS-like datagrams.
//
// A message is a 20-byte header ("RTPS", protocol version, vendor id and the
// sender's GUID prefix) followed by submessages. Each submessage starts with
// a 4-byte header (id, flags, octets to next header) and is padded to a
// 4-byte boundary. Submessages are little-endian.
//
// Supported submessages:
//
//	INFO_TS   0x09  source timestamp for the DATA that follows
//	DATA      0x15  one complete serialized sample
//	DATA_FRAG 0x16  one fragment of a serialized sample
//
// Group accumulates submessages and hands a full message to its Destination
// whenever the next submessage would not fit in the configured size.
package message
