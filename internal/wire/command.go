package wire

import "github.com/sqlited/sqlited/internal/srverr"

// CommandKind is the first payload byte of a command-phase packet. The
// exact command set is delegated to this collaborator by spec.md §6;
// Query is the only one a SQL session needs for the statement-execution
// pipeline, the rest support connection lifecycle.
type CommandKind byte

const (
	CommandQuit  CommandKind = 0x01
	CommandQuery CommandKind = 0x03
	CommandPing  CommandKind = 0x0e
)

// EncodeQueryCommand frames a client->server command-phase packet carrying
// one command frame's SQL text (spec.md §4.4 step 1: "decode one command
// frame from the read buffer").
func EncodeQueryCommand(sequence byte, sql string) []byte {
	payload := make([]byte, 0, 1+len(sql))
	payload = append(payload, byte(CommandQuery))
	payload = append(payload, sql...)
	return framePacket(sequence, payload)
}

// EncodeSimpleCommand frames a command-phase packet with no payload body
// (QUIT, PING).
func EncodeSimpleCommand(sequence byte, kind CommandKind) []byte {
	return framePacket(sequence, []byte{byte(kind)})
}

// CommandFrame is one decoded command-phase packet.
type CommandFrame struct {
	Sequence byte
	Kind     CommandKind
	SQL      string // populated for CommandQuery
}

// DecodeCommandFrame extracts one command-phase packet off the front of
// buf, returning the bytes consumed, or consumed == 0 if buf does not yet
// hold a complete packet.
func DecodeCommandFrame(buf []byte) (CommandFrame, int, error) {
	seq, payload, total, ok := unframePacket(buf)
	if !ok {
		return CommandFrame{}, 0, nil
	}
	if len(payload) < 1 {
		return CommandFrame{}, 0, srverr.New(srverr.KindProtocolError, "empty command frame")
	}
	cf := CommandFrame{Sequence: seq, Kind: CommandKind(payload[0])}
	if cf.Kind == CommandQuery {
		cf.SQL = string(payload[1:])
	}
	return cf, total, nil
}
