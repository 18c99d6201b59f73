package parser

import (
	"github.com/sqlited/sqlited/internal/statement"
)

// parseShow dispatches the SHOW family enumerated in spec.md §4.1.
func parseShow(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("SHOW")

	switch {
	case sc.peekKeyword("COLUMNS") || sc.peekKeyword("FIELDS"):
		sc.tryKeywords("COLUMNS", "FIELDS")
		return showColumnsLike(sc, text, statement.ShowColumns, false)

	case sc.consumeKeyword("CREATE"):
		if sc.consumeKeyword("INDEX") {
			target, err := sc.readIdent()
			if err != nil {
				return statement.Statement{}, err
			}
			return statement.Statement{Text: text, Command: statement.CmdShow, Show: &statement.ShowArgs{Kind: statement.ShowCreateIndex, Target: target}}, nil
		}
		if sc.consumeKeyword("TABLE") {
			target, err := sc.readIdent()
			if err != nil {
				return statement.Statement{}, err
			}
			return statement.Statement{Text: text, Command: statement.CmdShow, Show: &statement.ShowArgs{Kind: statement.ShowCreateTable, Target: target}}, nil
		}
		return statement.Statement{}, sc.errAt(sc.pos, "expected INDEX or TABLE after SHOW CREATE")

	case sc.consumeKeyword("DATABASES"):
		all := sc.consumeKeyword("ALL")
		return statement.Statement{Text: text, Command: statement.CmdShow, Show: &statement.ShowArgs{Kind: statement.ShowDatabases, All: all}}, nil

	case sc.consumeKeyword("GRANTS"):
		args := &statement.ShowArgs{Kind: statement.ShowGrants}
		if sc.consumeKeyword("FOR") {
			if sc.consumeKeyword("CURRENT_USER") {
				if !sc.eof() && sc.src[sc.pos] == '(' {
					sc.pos++
					_ = sc.skipSpaceAndComments()
					if sc.eof() || sc.src[sc.pos] != ')' {
						return statement.Statement{}, sc.errAt(sc.pos, "expected ')' after CURRENT_USER(")
					}
					sc.pos++
					_ = sc.skipSpaceAndComments()
				}
				args.ForCurrentUser = true
			} else if !sc.eof() && sc.src[sc.pos] == '\'' {
				name, err := sc.readIdent()
				if err != nil {
					return statement.Statement{}, err
				}
				// SHOW GRANTS FOR 'user' canonicalizes the host to "%"
				// without further lookup, preserved bit-for-bit (spec.md §9).
				args.ForUser = &statement.UserHostRef{User: name, Host: "%"}
			} else {
				user, host, err := sc.readUserAtHost()
				if err != nil {
					return statement.Statement{}, err
				}
				args.ForUser = &statement.UserHostRef{User: user, Host: host}
			}
		}
		return statement.Statement{Text: text, Command: statement.CmdShow, Show: args}, nil

	case sc.consumeKeyword("INDEXES"):
		args := &statement.ShowArgs{Kind: statement.ShowIndexes}
		args.Extended = sc.consumeKeyword("EXTENDED")
		args.ColumnsOnly = sc.consumeKeyword("COLUMNS")
		if !sc.tryFromIn() {
			return statement.Statement{}, sc.errAt(sc.pos, "expected FROM or IN")
		}
		schema, target, err := readSchemaQualifiedName(sc)
		if err != nil {
			return statement.Statement{}, err
		}
		args.Schema, args.Target = schema, target
		if sc.tryFromIn() {
			fromSchema, err := sc.readIdent()
			if err != nil {
				return statement.Statement{}, err
			}
			args.FromSchema = fromSchema
		}
		if sc.consumeKeyword("WHERE") {
			pattern, err := sc.readIdent()
			if err != nil {
				return statement.Statement{}, err
			}
			args.Like, args.HasLike = pattern, true
		}
		return statement.Statement{Text: text, Command: statement.CmdShow, Show: args}, nil

	case sc.consumeKeyword("PROCESSLIST"):
		full := sc.consumeKeyword("FULL")
		return statement.Statement{Text: text, Command: statement.CmdShow, Show: &statement.ShowArgs{Kind: statement.ShowProcesslist, Full: full}}, nil

	case sc.consumeKeyword("STATUS"):
		return statement.Statement{Text: text, Command: statement.CmdShow, Show: &statement.ShowArgs{Kind: statement.ShowStatus}}, nil

	case sc.consumeKeyword("TABLES"):
		args := &statement.ShowArgs{Kind: statement.ShowTables}
		if sc.consumeKeyword("FROM") {
			schema, err := sc.readIdent()
			if err != nil {
				return statement.Statement{}, err
			}
			args.Schema = schema
		}
		if sc.consumeKeyword("LIKE") {
			pattern, err := sc.readIdent()
			if err != nil {
				return statement.Statement{}, err
			}
			args.Like, args.HasLike = pattern, true
		}
		return statement.Statement{Text: text, Command: statement.CmdShow, Show: args}, nil

	case sc.consumeKeyword("USERS"):
		args := &statement.ShowArgs{Kind: statement.ShowUsers}
		if sc.consumeKeyword("WHERE") {
			pattern, err := sc.readIdent()
			if err != nil {
				return statement.Statement{}, err
			}
			args.Like, args.HasLike = pattern, true
		}
		return statement.Statement{Text: text, Command: statement.CmdShow, Show: args}, nil

	default:
		return statement.Statement{}, sc.errAt(sc.pos, "unrecognized SHOW variant")
	}
}

// tryFromIn consumes a FROM|IN keyword, reporting whether one matched.
func (s *scanner) tryFromIn() bool {
	return s.tryKeywords("FROM", "IN") != ""
}

func showColumnsLike(sc *scanner, text string, kind statement.ShowKind, _ bool) (statement.Statement, error) {
	args := &statement.ShowArgs{Kind: kind}
	if !sc.tryFromIn() {
		return statement.Statement{}, sc.errAt(sc.pos, "expected FROM or IN")
	}
	schema, target, err := readSchemaQualifiedName(sc)
	if err != nil {
		return statement.Statement{}, err
	}
	args.Schema, args.Target = schema, target
	if sc.tryFromIn() {
		fromSchema, err := sc.readIdent()
		if err != nil {
			return statement.Statement{}, err
		}
		args.FromSchema = fromSchema
	}
	return statement.Statement{Text: text, Command: statement.CmdShow, Show: args}, nil
}
