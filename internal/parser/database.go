package parser

import (
	"strings"

	"github.com/sqlited/sqlited/internal/statement"
)

// parseCreate dispatches CREATE to DATABASE/SCHEMA, USER, or passes
// through opaquely for anything else (spec.md §4.1).
func parseCreate(sc *scanner, text string) (statement.Statement, error) {
	save := sc.pos
	sc.consumeKeyword("CREATE")

	if sc.peekKeyword("DATABASE") || sc.peekKeyword("SCHEMA") {
		return parseCreateOrDropDatabase(sc, text, false)
	}
	if sc.peekKeyword("USER") {
		return parseCreateUser(sc, text)
	}
	sc.pos = save
	return statement.Statement{Text: text, Command: statement.Command("CREATE")}, nil
}

// parseAlter dispatches ALTER to USER, or passes through opaquely.
func parseAlter(sc *scanner, text string) (statement.Statement, error) {
	save := sc.pos
	sc.consumeKeyword("ALTER")

	if sc.peekKeyword("USER") {
		return parseAlterUser(sc, text)
	}
	sc.pos = save
	return statement.Statement{Text: text, Command: statement.Command("ALTER")}, nil
}

// parseDrop dispatches DROP to DATABASE/SCHEMA, USER, or passes through
// opaquely for anything else.
func parseDrop(sc *scanner, text string) (statement.Statement, error) {
	save := sc.pos
	sc.consumeKeyword("DROP")

	if sc.peekKeyword("DATABASE") || sc.peekKeyword("SCHEMA") {
		return parseCreateOrDropDatabase(sc, text, true)
	}
	if sc.peekKeyword("USER") {
		return parseDropUser(sc, text)
	}
	sc.pos = save
	return statement.Statement{Text: text, Command: statement.Command("DROP")}, nil
}

// parseCreateOrDropDatabase recognizes
// CREATE|DROP {DATABASE|SCHEMA} [IF [NOT] EXISTS] name [{LOCATION|DIRECTORY} 'path'].
func parseCreateOrDropDatabase(sc *scanner, text string, drop bool) (statement.Statement, error) {
	sc.tryKeywords("DATABASE", "SCHEMA")

	ifExists := false
	if sc.consumeKeyword("IF") {
		if !drop {
			sc.consumeKeyword("NOT")
		}
		if !sc.consumeKeyword("EXISTS") {
			return statement.Statement{}, sc.errAt(sc.pos, "expected EXISTS after IF [NOT]")
		}
		ifExists = true
	}

	name, err := sc.readIdent()
	if err != nil {
		return statement.Statement{}, err
	}
	name = strings.ToLower(name)

	args := &statement.DatabaseArgs{Drop: drop, IfExists: ifExists, Name: name}

	if sc.tryKeywords("LOCATION", "DIRECTORY") != "" {
		dir, err := sc.readIdent()
		if err != nil {
			return statement.Statement{}, err
		}
		args.Dir = dir
		args.HasDir = true
	}

	cmd := statement.CmdCreateDatabase
	if drop {
		cmd = statement.CmdDropDatabase
	}
	return statement.Statement{Text: text, Command: cmd, Database: args}, nil
}
