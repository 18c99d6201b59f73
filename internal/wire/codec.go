package wire

// QueryCodec adapts this package's packet-level encode/decode functions to
// the small decoder/encoder interfaces internal/worker depends on, keeping
// worker decoupled from wire's concrete packet layout (spec.md §9: the
// frontend-protocol encoder/decoder is a replaceable collaborator).
type QueryCodec struct{}

// Decode extracts one command frame's SQL text off the front of buf. A
// non-Query command (QUIT, PING) decodes to an empty SQL string with
// ok=true and consumed set, so the caller still advances past it.
func (QueryCodec) Decode(buf []byte) (sql string, consumed int, ok bool, err error) {
	cf, n, derr := DecodeCommandFrame(buf)
	if derr != nil {
		return "", 0, false, derr
	}
	if n == 0 {
		return "", 0, false, nil
	}
	return cf.SQL, n, true, nil
}

// EncodeOK implements the worker's ResponseEncoder interface.
func (QueryCodec) EncodeOK(sequence byte, rowsAffected, lastInsertID uint64, warning string) []byte {
	return EncodeOK(sequence, rowsAffected, lastInsertID, warning)
}

// EncodeErr implements the worker's ResponseEncoder interface.
func (QueryCodec) EncodeErr(sequence byte, err error) []byte {
	return EncodeErrFromKind(sequence, err)
}

// EncodeResultSet implements the worker's ResponseEncoder interface.
func (QueryCodec) EncodeResultSet(sequence byte, columns []string, rows [][]any) ([]byte, error) {
	return EncodeResultSet(sequence, columns, rows)
}
