package parser

import (
	"github.com/sqlited/sqlited/internal/statement"
)

// parseInsert recognizes the values-only and INSERT...SELECT shapes, plus
// an optional top-level RETURNING clause, per spec.md §4.1. The
// columns-text after RETURNING is preserved verbatim, including trailing
// whitespace and embedded comments.
func parseInsert(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("INSERT")

	st := statement.Statement{Text: text, Command: statement.CmdInsert}

	body := text
	execBody := body

	if idx := findTopLevelKeywordSeq(body, "RETURNING"); idx >= 0 {
		sub := body[idx:]
		t := newScanner(sub, sc.base+idx)
		_ = t.skipSpaceAndComments()
		if t.peekKeyword("RETURNING") {
			t.pos += len("RETURNING")
			st.Returning = true
			st.ReturningColumn = body[idx+t.pos:]
			execBody = body[:idx]
		}
	}

	st.ExecSQL = execBody
	return st, nil
}
