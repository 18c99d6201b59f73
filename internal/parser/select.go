package parser

import (
	"strconv"
	"strings"

	"github.com/sqlited/sqlited/internal/statement"
)

// parseSelect recognizes the FOR UPDATE suffix and the single SLEEP(n)
// shape from spec.md §4.1. Everything else about a SELECT body is opaque.
func parseSelect(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("SELECT")

	st := statement.Statement{Text: text, Command: statement.CmdSelect}

	body := text
	execSQL := body

	if idx := findTopLevelKeywordSeq(body, "FOR", "UPDATE"); idx >= 0 {
		// Only valid if FOR UPDATE is the trailing clause (nothing but
		// whitespace/comments after it).
		tail := newScanner(body[idx:], sc.base+idx)
		_ = tail.skipSpaceAndComments()
		_ = tail.consumeKeyword("FOR")
		_ = tail.consumeKeyword("UPDATE")
		if err := tail.skipSpaceAndComments(); err != nil {
			return statement.Statement{}, err
		}
		if tail.eof() {
			st.ForUpdate = true
			execSQL = body[:idx]
		}
	}

	if n, ok := trailingSleepArg(execSQL); ok {
		st.SleepArg = &n
	}

	st.ExecSQL = strings.TrimRight(execSQL, " \t\r\n")
	return st, nil
}

// trailingSleepArg recognizes the "[expr ,] SLEEP(number)" shape as the
// last top-level item of a SELECT's projection list -- no other sleep
// position, no trailing clause after it, per spec.md §4.1.
func trailingSleepArg(body string) (int64, bool) {
	trimmed := strings.TrimRight(body, " \t\r\n")
	if trimmed == "" || trimmed[len(trimmed)-1] != ')' {
		return 0, false
	}
	// Walk back to the matching '(' at the top level of this tail.
	depth := 0
	i := len(trimmed) - 1
	for i >= 0 {
		c := trimmed[i]
		if c == ')' {
			depth++
		} else if c == '(' {
			depth--
			if depth == 0 {
				break
			}
		}
		i--
	}
	if i < 0 {
		return 0, false
	}
	openParen := i
	arg := strings.TrimSpace(trimmed[openParen+1 : len(trimmed)-1])
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, false
	}
	// The identifier immediately before '(' must be SLEEP.
	j := openParen - 1
	for j >= 0 && isSpace(trimmed[j]) {
		j--
	}
	end := j + 1
	for j >= 0 && isIdentPart(trimmed[j]) {
		j--
	}
	name := trimmed[j+1 : end]
	if !strings.EqualFold(name, "SLEEP") {
		return 0, false
	}
	return n, true
}
