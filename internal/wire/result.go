package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sqlited/sqlited/internal/srverr"
)

// valueTag marks the wire encoding of one result-set cell.
type valueTag byte

const (
	tagNull valueTag = iota
	tagInt64
	tagFloat64
	tagString
	tagBytes
)

// EncodeOK frames a success packet for a non-result-returning statement
// (INSERT/UPDATE/DELETE/DDL/meta commands), optionally carrying the
// informational warning set for the CREATE DATABASE IF NOT EXISTS
// file-exists-without-catalog-row case (Open Question (a)).
func EncodeOK(sequence byte, rowsAffected, lastInsertID uint64, warning string) []byte {
	payload := make([]byte, 0, 1+8+8+2+len(warning))
	payload = append(payload, 0x00)
	payload = appendUint64(payload, rowsAffected)
	payload = appendUint64(payload, lastInsertID)
	payload = appendUTF8String(payload, warning)
	return framePacket(sequence, payload)
}

// EncodeErr frames an error packet carrying the SQLSTATE spec.md §7's
// error-kind table assigns, plus a human-readable message.
func EncodeErr(sequence byte, sqlstate, message string) []byte {
	payload := make([]byte, 0, 1+5+2+len(message))
	payload = append(payload, 0xff)
	payload = append(payload, []byte(fmt.Sprintf("%-5s", sqlstate))...)
	payload = appendUTF8String(payload, message)
	return framePacket(sequence, payload)
}

// EncodeErrFromKind extracts a srverr.Error's SQLSTATE and message if err
// carries one, falling back to the generic "HY000" state otherwise.
func EncodeErrFromKind(sequence byte, err error) []byte {
	var se *srverr.Error
	if e, ok := err.(*srverr.Error); ok {
		se = e
	}
	if se != nil {
		return EncodeErr(sequence, se.SQLSTATE(), se.Error())
	}
	return EncodeErr(sequence, "HY000", err.Error())
}

// EncodeResultSet frames a query result: column names followed by each
// row's type-tagged cell values. Supported cell types are nil, the
// integer/float/string/[]byte kinds database/sql.Rows.Scan yields for a
// modernc.org/sqlite driver.
func EncodeResultSet(sequence byte, columns []string, rows [][]any) ([]byte, error) {
	payload := make([]byte, 0, 256)
	payload = appendUint32(payload, uint32(len(columns)))
	for _, c := range columns {
		payload = appendUTF8String(payload, c)
	}
	payload = appendUint32(payload, uint32(len(rows)))
	for _, row := range rows {
		if len(row) != len(columns) {
			return nil, srverr.New(srverr.KindProtocolError, "row has %d cells, expected %d", len(row), len(columns))
		}
		for _, v := range row {
			var err error
			payload, err = appendValue(payload, v)
			if err != nil {
				return nil, err
			}
		}
	}
	return framePacket(sequence, payload), nil
}

func appendValue(buf []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, byte(tagNull)), nil
	case int64:
		buf = append(buf, byte(tagInt64))
		return appendUint64(buf, uint64(t)), nil
	case float64:
		buf = append(buf, byte(tagFloat64))
		return appendFloat64(buf, t), nil
	case string:
		buf = append(buf, byte(tagString))
		return appendUTF8String32(buf, []byte(t)), nil
	case []byte:
		buf = append(buf, byte(tagBytes))
		return appendUTF8String32(buf, t), nil
	case bool:
		buf = append(buf, byte(tagInt64))
		n := int64(0)
		if t {
			n = 1
		}
		return appendUint64(buf, uint64(n)), nil
	default:
		return nil, srverr.New(srverr.KindProtocolError, "unsupported result cell type %T", v)
	}
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendFloat64(buf []byte, f float64) []byte {
	return appendUint64(buf, math.Float64bits(f))
}

// appendUTF8String32 is appendUTF8String's counterpart for values whose
// length may exceed a uint16 (row cells), using a 4-byte length prefix.
func appendUTF8String32(buf []byte, s []byte) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
