package parser

import (
	"strconv"

	"github.com/sqlited/sqlited/internal/statement"
)

// parseTruncate recognizes TRUNCATE [TABLE] [schema.] table, re-tagged as
// command DELETE per spec.md §4.1/§8.
func parseTruncate(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("TRUNCATE")
	sc.consumeKeyword("TABLE")

	schema, table, err := readSchemaQualifiedName(sc)
	if err != nil {
		return statement.Statement{}, err
	}

	return statement.Statement{
		Text:     text,
		Command:  statement.CmdTruncateTable,
		Truncate: &statement.TruncateArgs{Schema: schema, Table: table},
		ExecSQL:  text,
	}, nil
}

// parseKill recognizes KILL [CONNECTION|QUERY] <integer>.
func parseKill(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("KILL")

	query := false
	switch sc.tryKeywords("CONNECTION", "QUERY") {
	case "QUERY":
		query = true
	}

	start := sc.pos
	for !sc.eof() && sc.src[sc.pos] >= '0' && sc.src[sc.pos] <= '9' {
		sc.pos++
	}
	if start == sc.pos {
		return statement.Statement{}, sc.errAt(sc.pos, "expected connection id")
	}
	id, err := strconv.ParseInt(sc.src[start:sc.pos], 10, 64)
	if err != nil {
		return statement.Statement{}, sc.errAt(start, "malformed connection id")
	}

	return statement.Statement{
		Text:    text,
		Command: statement.CmdKill,
		Kill:    &statement.KillArgs{Query: query, ID: id},
	}, nil
}
