// Package wire implements the frontend-protocol encoder/decoder spec.md §6
// names: the handshake packet layout given there byte-for-byte, and the
// command-frame/result-set/error-packet framing the spec delegates to this
// collaborator.
package wire

import (
	"encoding/binary"

	"github.com/sqlited/sqlited/internal/srverr"
)

// ProtocolVersion is the single handshake protocol version this server
// speaks.
const ProtocolVersion byte = 10

// SeedLen matches internal/auth.SeedLen: the challenge seed and login
// signature are both exactly this many bytes.
const SeedLen = 20

// HandshakeInit is the server->client packet sent immediately on accept,
// per spec.md §6: 3-byte packet length, 1-byte sequence, 1-byte protocol
// version, UTF-8 length-prefixed server version, big-endian 4-byte session
// id, 20-byte challenge seed.
type HandshakeInit struct {
	Sequence      byte
	ServerVersion string
	SessionID     uint32
	Seed          [SeedLen]byte
}

// EncodeHandshakeInit serializes h into its wire form, including the
// 3-byte packet-length header.
func EncodeHandshakeInit(h HandshakeInit) []byte {
	payload := make([]byte, 0, 1+2+len(h.ServerVersion)+4+SeedLen)
	payload = append(payload, ProtocolVersion)
	payload = appendUTF8String(payload, h.ServerVersion)
	var sessionBuf [4]byte
	binary.BigEndian.PutUint32(sessionBuf[:], h.SessionID)
	payload = append(payload, sessionBuf[:]...)
	payload = append(payload, h.Seed[:]...)

	return framePacket(h.Sequence, payload)
}

// DecodeHandshakeInit parses a previously-encoded HandshakeInit packet
// (including its 3-byte length header), returning the bytes consumed.
func DecodeHandshakeInit(buf []byte) (HandshakeInit, int, error) {
	seq, payload, total, ok := unframePacket(buf)
	if !ok {
		return HandshakeInit{}, 0, nil
	}
	if len(payload) < 1 {
		return HandshakeInit{}, 0, srverr.New(srverr.KindProtocolError, "truncated handshake init")
	}
	if payload[0] != ProtocolVersion {
		return HandshakeInit{}, 0, srverr.New(srverr.KindProtocolError, "unsupported protocol version %d", payload[0])
	}
	rest := payload[1:]

	version, rest, err := readUTF8String(rest)
	if err != nil {
		return HandshakeInit{}, 0, err
	}
	if len(rest) < 4+SeedLen {
		return HandshakeInit{}, 0, srverr.New(srverr.KindProtocolError, "truncated handshake init")
	}
	sessionID := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]

	var h HandshakeInit
	h.Sequence = seq
	h.ServerVersion = version
	h.SessionID = sessionID
	copy(h.Seed[:], rest[:SeedLen])
	return h, total, nil
}

// LoginReply is the client->server reply to HandshakeInit, per spec.md §6:
// protocol version (1 byte), UTF-8 database name, 4-byte open flags, UTF-8
// user, 20-byte login signature.
type LoginReply struct {
	Sequence    byte
	Database    string
	OpenFlags   uint32
	User        string
	Protocol    string // not on the wire; supplied by the listener's port/handler
	Signature   [SeedLen]byte
}

// EncodeLoginReply serializes a LoginReply, for tests and any client-side
// tooling exercising the same framing.
func EncodeLoginReply(l LoginReply) []byte {
	payload := make([]byte, 0, 1+2+len(l.Database)+4+2+len(l.User)+SeedLen)
	payload = append(payload, ProtocolVersion)
	payload = appendUTF8String(payload, l.Database)
	var flagsBuf [4]byte
	binary.BigEndian.PutUint32(flagsBuf[:], l.OpenFlags)
	payload = append(payload, flagsBuf[:]...)
	payload = appendUTF8String(payload, l.User)
	payload = append(payload, l.Signature[:]...)
	return framePacket(l.Sequence, payload)
}

// DecodeLoginReply parses a client's login reply packet, returning the
// bytes consumed, or consumed == 0 if buf does not yet hold a complete
// packet.
func DecodeLoginReply(buf []byte) (LoginReply, int, error) {
	seq, payload, total, ok := unframePacket(buf)
	if !ok {
		return LoginReply{}, 0, nil
	}
	if len(payload) < 1 {
		return LoginReply{}, 0, srverr.New(srverr.KindProtocolError, "truncated login reply")
	}
	if payload[0] != ProtocolVersion {
		return LoginReply{}, 0, srverr.New(srverr.KindProtocolError, "unsupported protocol version %d", payload[0])
	}
	rest := payload[1:]

	db, rest, err := readUTF8String(rest)
	if err != nil {
		return LoginReply{}, 0, err
	}
	if len(rest) < 4 {
		return LoginReply{}, 0, srverr.New(srverr.KindProtocolError, "truncated login reply")
	}
	flags := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]

	user, rest, err := readUTF8String(rest)
	if err != nil {
		return LoginReply{}, 0, err
	}
	if len(rest) < SeedLen {
		return LoginReply{}, 0, srverr.New(srverr.KindProtocolError, "truncated login reply")
	}

	var l LoginReply
	l.Sequence = seq
	l.Database = db
	l.OpenFlags = flags
	l.User = user
	copy(l.Signature[:], rest[:SeedLen])
	return l, total, nil
}
