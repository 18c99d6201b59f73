// Package parser implements the incremental, comment-aware SQL front
// parser described in spec.md §4.1: a lazy, forward-only, restartable-at-
// start sequence of classified Statements.
package parser

import (
	"strings"

	"github.com/sqlited/sqlited/internal/srverr"
	"github.com/sqlited/sqlited/internal/statement"
)

// Ack is the small enum a consumer returns after producing a statement,
// replacing the Java iterator's remove() side channel (spec.md §9).
type Ack int

const (
	AckKeep Ack = iota
	AckRemoved
)

// Cursor owns the input text, a position index, and whether the last
// produced statement has been acknowledged, per spec.md §3's "Parser
// cursor" data model.
type Cursor struct {
	full     string
	pos      int
	closed   bool
	produced bool // a statement was yielded and not yet acknowledged
}

// New returns a Cursor over src, at the start of input.
func New(src string) *Cursor {
	return &Cursor{full: src}
}

// HasNext reports whether a further statement remains to be yielded. A
// closed cursor (exhausted or explicitly closed) always returns false.
func (c *Cursor) HasNext() bool {
	return !c.closed && c.pos < len(c.full)
}

// Close marks the cursor as exhausted; no further statements are yielded.
func (c *Cursor) Close() { c.closed = true }

// Next yields the next Statement, or an error if the cursor is exhausted
// (NoSuchElement, surfaced as srverr.KindProtocolError) or
// the input is malformed.
func (c *Cursor) Next() (statement.Statement, error) {
	if !c.HasNext() {
		c.closed = true
		return statement.Statement{}, errNoSuchElement()
	}

	start := c.pos
	remainder := c.full[c.pos:]
	semiIdx, err := findTopLevelSemicolon(remainder, start)
	if err != nil {
		c.closed = true
		return statement.Statement{}, err
	}

	var text string
	if semiIdx < 0 {
		text = remainder
		c.pos = len(c.full)
	} else {
		text = remainder[:semiIdx]
		c.pos = start + semiIdx + 1
	}

	stmt, err := classify(text, start)
	if err != nil {
		c.closed = true
		return statement.Statement{}, err
	}
	c.produced = true
	return stmt, nil
}

// Advance applies the consumer's Ack for the most recently produced
// statement. AckRemoved with nothing produced is an IllegalState error,
// mirroring spec.md §4.1's "removing when no statement was produced".
func (c *Cursor) Advance(ack Ack) error {
	if ack == AckRemoved && !c.produced {
		return srverr.New(srverr.KindProtocolError, "illegal state: no statement to remove")
	}
	c.produced = false
	return nil
}

func errNoSuchElement() error {
	return srverr.New(srverr.KindProtocolError, "NoSuchElement: parser exhausted")
}

// All drains the cursor, returning every statement. Convenience for tests
// and for callers that don't need the Ack side channel.
func All(src string) ([]statement.Statement, error) {
	c := New(src)
	var out []statement.Statement
	for c.HasNext() {
		st, err := c.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
		_ = c.Advance(AckRemoved)
	}
	return out, nil
}

// classify trims leading whitespace/comments, peeks the command keyword,
// and dispatches to the matching per-command recognizer. base is the
// absolute offset of text[0] in the original input.
func classify(text string, base int) (statement.Statement, error) {
	sc := newScanner(text, base)
	if err := sc.skipSpaceAndComments(); err != nil {
		return statement.Statement{}, err
	}
	if sc.eof() {
		return statement.Statement{
			Text:    text,
			Command: statement.CmdEmpty,
			Empty:   true,
			Comment: sc.sawComment,
		}, nil
	}

	kw := peekWord(sc)
	upper := strings.ToUpper(kw)

	switch upper {
	case "SELECT":
		return parseSelect(sc, text)
	case "INSERT":
		return parseInsert(sc, text)
	case "UPDATE":
		sc.consumeKeyword("UPDATE")
		return opaque(text, statement.CmdUpdate), nil
	case "DELETE":
		sc.consumeKeyword("DELETE")
		return opaque(text, statement.CmdDelete), nil
	case "TRUNCATE":
		return parseTruncate(sc, text)
	case "BEGIN", "START":
		return parseBegin(sc, text)
	case "COMMIT":
		sc.consumeKeyword("COMMIT")
		sc.consumeKeyword("TRANSACTION")
		return statement.Statement{Text: text, Command: statement.CmdCommit}, nil
	case "END":
		sc.consumeKeyword("END")
		sc.consumeKeyword("TRANSACTION")
		return statement.Statement{Text: text, Command: statement.CmdEnd}, nil
	case "ROLLBACK":
		return parseRollback(sc, text)
	case "SAVEPOINT":
		return parseSavepoint(sc, text)
	case "RELEASE":
		return parseRelease(sc, text)
	case "SET":
		return parseSetTransaction(sc, text)
	case "ATTACH":
		return parseAttach(sc, text)
	case "DETACH":
		return parseDetach(sc, text)
	case "PRAGMA":
		return parsePragma(sc, text)
	case "CREATE":
		return parseCreate(sc, text)
	case "ALTER":
		return parseAlter(sc, text)
	case "DROP":
		return parseDrop(sc, text)
	case "GRANT":
		return parseGrant(sc, text)
	case "REVOKE":
		return parseRevoke(sc, text)
	case "SHOW":
		return parseShow(sc, text)
	case "KILL":
		return parseKill(sc, text)
	default:
		return statement.Statement{Text: text, Command: statement.Command(upper)}, nil
	}
}

func opaque(text string, cmd statement.Command) statement.Statement {
	return statement.Statement{Text: text, Command: cmd, ExecSQL: strings.TrimRight(text, " \t\r\n")}
}

// peekWord returns the bare keyword at the scanner's current position
// without consuming it (callers re-consume via consumeKeyword so that
// position tracking and identifier-boundary checks stay in one place).
func peekWord(sc *scanner) string {
	start := sc.pos
	i := sc.pos
	for i < len(sc.src) && isIdentPart(sc.src[i]) {
		i++
	}
	return sc.src[start:i]
}
