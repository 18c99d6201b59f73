package parser

import (
	"github.com/sqlited/sqlited/internal/statement"
)

// parsePragma recognizes PRAGMA [schema.]name [ = value | (value) ].
func parsePragma(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("PRAGMA")

	schema, name, err := readSchemaQualifiedName(sc)
	if err != nil {
		return statement.Statement{}, err
	}

	args := &statement.PragmaArgs{Schema: schema, Name: name}

	if !sc.eof() && sc.src[sc.pos] == '=' {
		sc.pos++
		_ = sc.skipSpaceAndComments()
		val, err := readPragmaValue(sc)
		if err != nil {
			return statement.Statement{}, err
		}
		args.HasValue = true
		args.Value = val
	} else if !sc.eof() && sc.src[sc.pos] == '(' {
		sc.pos++
		_ = sc.skipSpaceAndComments()
		val, err := readPragmaValue(sc)
		if err != nil {
			return statement.Statement{}, err
		}
		_ = sc.skipSpaceAndComments()
		if sc.eof() || sc.src[sc.pos] != ')' {
			return statement.Statement{}, sc.errAt(sc.pos, "expected ')' closing PRAGMA value")
		}
		sc.pos++
		args.HasValue = true
		args.Value = val
	}

	return statement.Statement{Text: text, Command: statement.CmdPragma, Pragma: args}, nil
}

// readSchemaQualifiedName reads `[schema.]name`, where either part may be
// bare or single-/double-quoted.
func readSchemaQualifiedName(sc *scanner) (schema, name string, err error) {
	first, err := sc.readIdent()
	if err != nil {
		return "", "", err
	}
	if !sc.eof() && sc.src[sc.pos] == '.' {
		sc.pos++
		_ = sc.skipSpaceAndComments()
		second, err := sc.readIdent()
		if err != nil {
			return "", "", err
		}
		return first, second, nil
	}
	return "", first, nil
}

// readPragmaValue reads a signed/unsigned integer, decimal (including
// ".0", "-.0", "+.0"), 0x-prefixed hex integer, or single-quoted string.
// A second decimal point in the same token is a parse error.
func readPragmaValue(sc *scanner) (string, error) {
	if sc.eof() {
		return "", sc.errAt(sc.pos, "expected PRAGMA value")
	}
	start := sc.pos

	if sc.src[sc.pos] == '\'' {
		lit, err := sc.skipString()
		if err != nil {
			return "", err
		}
		_ = sc.skipSpaceAndComments()
		return lit, nil
	}

	if sc.src[sc.pos] == '+' || sc.src[sc.pos] == '-' {
		sc.pos++
	}

	if sc.pos+1 < len(sc.src) && sc.src[sc.pos] == '0' && (sc.src[sc.pos+1] == 'x' || sc.src[sc.pos+1] == 'X') {
		sc.pos += 2
		for !sc.eof() && isHexDigit(sc.src[sc.pos]) {
			sc.pos++
		}
		val := sc.src[start:sc.pos]
		_ = sc.skipSpaceAndComments()
		return val, nil
	}

	dots := 0
	sawDigit := false
	for !sc.eof() {
		c := sc.src[sc.pos]
		if c >= '0' && c <= '9' {
			sawDigit = true
			sc.pos++
			continue
		}
		if c == '.' {
			dots++
			sc.pos++
			if dots > 1 {
				return "", sc.errAt(sc.pos-1, "malformed PRAGMA value: double decimal point")
			}
			continue
		}
		break
	}
	if !sawDigit && dots == 0 {
		return "", sc.errAt(start, "expected PRAGMA value")
	}
	val := sc.src[start:sc.pos]
	_ = sc.skipSpaceAndComments()
	return val, nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
