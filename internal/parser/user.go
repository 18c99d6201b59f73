package parser

import (
	"strings"

	"github.com/sqlited/sqlited/internal/statement"
)

const (
	defaultProtocol   = "pg"
	defaultAuthMethod = "md5"
)

var authMethods = map[string]bool{"md5": true, "password": true, "trust": true}

// parseCreateUser recognizes:
// CREATE USER 'user'@'host' [WITH] (SUPERUSER|NOSUPERUSER | IDENTIFIED BY 'pw' | IDENTIFIED WITH <protocol> [<auth-method>])*
func parseCreateUser(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("CREATE")
	sc.consumeKeyword("USER")

	ref, err := parseOneUserRef(sc, true)
	if err != nil {
		return statement.Statement{}, err
	}

	return statement.Statement{
		Text:    text,
		Command: statement.CmdCreateUser,
		User:    &statement.UserArgs{Users: []statement.UserAuth{*ref}},
	}, nil
}

// parseAlterUser recognizes the same grammar minus creation semantics;
// repeated SUPERUSER/NOSUPERUSER and IDENTIFIED BY are last-wins.
func parseAlterUser(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("ALTER")
	sc.consumeKeyword("USER")

	ref, err := parseOneUserRef(sc, false)
	if err != nil {
		return statement.Statement{}, err
	}

	return statement.Statement{
		Text:    text,
		Command: statement.CmdAlterUser,
		User:    &statement.UserArgs{Alter: true, Users: []statement.UserAuth{*ref}},
	}, nil
}

// parseDropUser recognizes DROP USER 'user'@'host' [IDENTIFIED WITH protocol] [, ...].
func parseDropUser(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("DROP")
	sc.consumeKeyword("USER")

	var refs []statement.UserAuth
	for {
		user, host, err := sc.readUserAtHost()
		if err != nil {
			return statement.Statement{}, err
		}
		auth := statement.UserAuth{User: user, Host: host, Protocol: defaultProtocol}
		if sc.consumeKeyword("IDENTIFIED") {
			if !sc.consumeKeyword("WITH") {
				return statement.Statement{}, sc.errAt(sc.pos, "expected WITH after IDENTIFIED")
			}
			proto, err := sc.readIdent()
			if err != nil {
				return statement.Statement{}, err
			}
			auth.Protocol = proto
			auth.HasIdentified = true
		}
		refs = append(refs, auth)
		if !consumeComma(sc) {
			break
		}
	}

	return statement.Statement{
		Text:    text,
		Command: statement.CmdDropUser,
		User:    &statement.UserArgs{Drop: true, Users: refs},
	}, nil
}

// parseOneUserRef reads `'user'@'host'` then the attribute clauses shared
// by CREATE/ALTER USER.
func parseOneUserRef(sc *scanner, isCreate bool) (*statement.UserAuth, error) {
	user, host, err := sc.readUserAtHost()
	if err != nil {
		return nil, err
	}

	auth := &statement.UserAuth{
		Host:     host,
		User:     user,
		Protocol: defaultProtocol,
	}

	// A bare "WITH" must be followed by whitespace/comment before the next
	// keyword -- consumeKeyword's identifier-boundary check already
	// enforces that (a fused "withIDENTIFIED" fails to match "WITH" at
	// all and falls through to the unexpected-token error below).
	sc.consumeKeyword("WITH")

	seenIdentifiedWith := false
	for {
		save := sc.pos

		if sc.consumeKeyword("NOSUPERUSER") {
			f := false
			auth.SuperUser = &f
			continue
		}
		if sc.consumeKeyword("SUPERUSER") {
			t := true
			auth.SuperUser = &t
			continue
		}
		if sc.consumeKeyword("IDENTIFIED") {
			switch {
			case sc.consumeKeyword("BY"):
				pw, err := sc.readIdent()
				if err != nil {
					return nil, err
				}
				auth.Password = &pw
				auth.HasIdentified = true

			case sc.consumeKeyword("WITH"):
				if seenIdentifiedWith {
					return nil, sc.errAt(sc.pos, "multiple auth methods specified")
				}
				seenIdentifiedWith = true
				proto, err := sc.readIdent()
				if err != nil {
					return nil, err
				}
				auth.Protocol = proto
				auth.AuthMethod = defaultAuthMethod
				auth.HasIdentified = true

				peekSave := sc.pos
				if !sc.eof() && isIdentStart(sc.src[sc.pos]) {
					if method, err := sc.readIdent(); err == nil && authMethods[strings.ToLower(method)] {
						auth.AuthMethod = strings.ToLower(method)
					} else {
						sc.pos = peekSave
					}
				}

			default:
				return nil, sc.errAt(sc.pos, "expected BY or WITH after IDENTIFIED")
			}
			continue
		}

		sc.pos = save
		if !sc.eof() {
			return nil, sc.errAt(sc.pos, "unexpected token in user attributes")
		}
		if auth.AuthMethod == "" {
			auth.AuthMethod = defaultAuthMethod
		}
		return auth, nil
	}
}
