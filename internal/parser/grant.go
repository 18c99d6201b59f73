package parser

import (
	"strings"

	"github.com/sqlited/sqlited/internal/statement"
)

var validPrivileges = map[string]bool{
	"all": true, "select": true, "insert": true, "update": true, "delete": true,
	"attach": true, "vacuum": true, "create": true, "drop": true, "alter": true,
	"pragma": true,
}

// parseGrant recognizes GRANT <priv-list> ON [DATABASE|SCHEMA] <db-list> TO <user-list>.
func parseGrant(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("GRANT")
	return parseGrantOrRevoke(sc, text, false)
}

// parseRevoke recognizes the mirrored REVOKE <priv-list> ON ... FROM <user-list>.
func parseRevoke(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("REVOKE")
	return parseGrantOrRevoke(sc, text, true)
}

func parseGrantOrRevoke(sc *scanner, text string, revoke bool) (statement.Statement, error) {
	privs, err := parsePrivilegeList(sc)
	if err != nil {
		return statement.Statement{}, err
	}

	if !sc.consumeKeyword("ON") {
		return statement.Statement{}, sc.errAt(sc.pos, "expected ON")
	}
	sc.tryKeywords("DATABASE", "SCHEMA")

	dbs, err := parseIdentList(sc)
	if err != nil {
		return statement.Statement{}, err
	}

	endKw := "TO"
	if revoke {
		endKw = "FROM"
	}
	if !sc.consumeKeyword(endKw) {
		return statement.Statement{}, sc.errAt(sc.pos, "expected "+endKw)
	}

	grantees, err := parseUserRefList(sc)
	if err != nil {
		return statement.Statement{}, err
	}

	cmd := statement.CmdGrant
	if revoke {
		cmd = statement.CmdRevoke
	}

	return statement.Statement{
		Text:    text,
		Command: cmd,
		Grant: &statement.GrantArgs{
			Revoke:     revoke,
			Privileges: privs,
			Databases:  dbs,
			Grantees:   grantees,
		},
	}, nil
}

// parsePrivilegeList reads a comma-separated list from validPrivileges,
// canonicalizing ALL [PRIVILEGES] to "all". A trailing comma before ON
// is a parse error.
func parsePrivilegeList(sc *scanner) ([]string, error) {
	var privs []string
	for {
		word, err := sc.readIdent()
		if err != nil {
			return nil, err
		}
		lower := strings.ToLower(word)
		if lower == "all" {
			sc.consumeKeyword("PRIVILEGES")
			privs = append(privs, "all")
		} else if validPrivileges[lower] {
			privs = append(privs, lower)
		} else {
			return nil, sc.errAt(sc.pos, "unknown privilege %q", word)
		}

		if !consumeComma(sc) {
			break
		}
		if sc.peekKeyword("ON") {
			return nil, sc.errAt(sc.pos, "trailing comma before ON")
		}
	}
	return privs, nil
}

// parseIdentList reads a comma-separated list of identifiers.
func parseIdentList(sc *scanner) ([]string, error) {
	var out []string
	for {
		id, err := sc.readIdent()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
		if !consumeComma(sc) {
			break
		}
		if sc.peekKeyword("TO") || sc.peekKeyword("FROM") {
			return nil, sc.errAt(sc.pos, "trailing comma before TO/FROM")
		}
	}
	return out, nil
}

// parseUserRefList reads a comma-separated list of `user@host` references.
func parseUserRefList(sc *scanner) ([]statement.UserHostRef, error) {
	var out []statement.UserHostRef
	for {
		user, host, err := sc.readUserAtHost()
		if err != nil {
			return nil, err
		}
		out = append(out, statement.UserHostRef{User: user, Host: host})
		if !consumeComma(sc) {
			break
		}
	}
	return out, nil
}
