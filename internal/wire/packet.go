package wire

import (
	"encoding/binary"

	"github.com/sqlited/sqlited/internal/srverr"
)

// maxPacketLength is the largest payload a 3-byte little-endian length
// field (spec.md §6) can address.
const maxPacketLength = 1<<24 - 1

// framePacket prepends the 3-byte little-endian packet length and 1-byte
// sequence number spec.md §6 gives for every packet, not just the
// handshake.
func framePacket(sequence byte, payload []byte) []byte {
	out := make([]byte, 4, 4+len(payload))
	out[0] = byte(len(payload))
	out[1] = byte(len(payload) >> 8)
	out[2] = byte(len(payload) >> 16)
	out[3] = sequence
	return append(out, payload...)
}

// unframePacket reads one packet's header off the front of buf, returning
// its sequence number, payload slice, total bytes consumed, and ok=false
// if buf does not yet hold a complete packet.
func unframePacket(buf []byte) (sequence byte, payload []byte, consumed int, ok bool) {
	if len(buf) < 4 {
		return 0, nil, 0, false
	}
	length := int(buf[0]) | int(buf[1])<<8 | int(buf[2])<<16
	if len(buf) < 4+length {
		return 0, nil, 0, false
	}
	return buf[3], buf[4 : 4+length], 4 + length, true
}

// appendUTF8String appends a 2-byte big-endian length prefix followed by
// s's UTF-8 bytes -- the string encoding spec.md §6 leaves to this
// collaborator for every UTF-8 length-prefixed field in the handshake.
func appendUTF8String(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

// readUTF8String reads one appendUTF8String-encoded string off the front
// of buf, returning the remainder.
func readUTF8String(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, srverr.New(srverr.KindProtocolError, "truncated string field")
	}
	n := int(binary.BigEndian.Uint16(buf[:2]))
	buf = buf[2:]
	if len(buf) < n {
		return "", nil, srverr.New(srverr.KindProtocolError, "truncated string field")
	}
	return string(buf[:n]), buf[n:], nil
}
