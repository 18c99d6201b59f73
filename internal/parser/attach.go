package parser

import (
	"github.com/sqlited/sqlited/internal/statement"
)

// parseAttach recognizes ATTACH [DATABASE] <path> AS <schema>.
func parseAttach(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("ATTACH")
	sc.consumeKeyword("DATABASE")

	path, err := sc.readIdent()
	if err != nil {
		return statement.Statement{}, err
	}
	if !sc.consumeKeyword("AS") {
		return statement.Statement{}, sc.errAt(sc.pos, "expected AS in ATTACH")
	}
	schema, err := sc.readIdent()
	if err != nil {
		return statement.Statement{}, err
	}
	return statement.Statement{
		Text:    text,
		Command: statement.CmdAttach,
		Attach:  &statement.AttachArgs{Path: path, Schema: schema},
	}, nil
}

// parseDetach recognizes DETACH [DATABASE] <schema>.
func parseDetach(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("DETACH")
	sc.consumeKeyword("DATABASE")

	schema, err := sc.readIdent()
	if err != nil {
		return statement.Statement{}, err
	}
	return statement.Statement{
		Text:    text,
		Command: statement.CmdDetach,
		Attach:  &statement.AttachArgs{Schema: schema, Detach: true},
	}, nil
}
