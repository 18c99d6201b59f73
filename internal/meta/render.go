package meta

import (
	"fmt"
	"strings"

	"github.com/sqlited/sqlited/internal/parser"
	"github.com/sqlited/sqlited/internal/srverr"
	"github.com/sqlited/sqlited/internal/statement"
)

// Render renders a meta-affecting Statement into SQL against alias,
// reproducing the textual forms from spec.md §4.2/§8 bit-for-bit (modulo
// insignificant whitespace). It re-parses the result and fails closed if
// the rendering doesn't come back as the single expected command.
func Render(st statement.Statement, alias string) (string, error) {
	var sql string
	var want statement.Command

	switch st.Command {
	case statement.CmdCreateUser:
		sql = renderCreateUser(st, alias)
		want = statement.CmdInsert
	case statement.CmdAlterUser:
		sql = renderAlterUser(st, alias)
		want = statement.CmdUpdate
	case statement.CmdDropUser:
		sql = renderDropUser(st, alias)
		want = statement.CmdDelete
	case statement.CmdCreateDatabase:
		sql = renderCreateDatabase(st, alias)
		want = statement.CmdInsert
	case statement.CmdDropDatabase:
		sql = renderDropDatabase(st, alias)
		want = statement.CmdDelete
	case statement.CmdGrant:
		sql = renderGrant(st, alias)
		want = statement.CmdInsert // REPLACE classifies as an opaque INSERT-family command below
	case statement.CmdRevoke:
		sql = renderRevoke(st, alias)
		want = statement.CmdDelete
	default:
		return "", srverr.New(srverr.KindProtocolError, "statement %s is not meta-affecting", st.Command)
	}

	if err := verifyRendersAs(sql, want); err != nil {
		return "", err
	}
	return sql, nil
}

// verifyRendersAs re-parses sql and checks it classifies as the expected
// single command, per spec.md §4.2's "must re-parse" requirement. REPLACE
// is accepted wherever INSERT is expected, since the front parser treats
// REPLACE as an opaque pass-through rather than a distinct command tag.
func verifyRendersAs(sql string, want statement.Command) error {
	stmts, err := parser.All(sql)
	if err != nil {
		return srverr.Wrap(srverr.KindParseError, err, "rendered meta SQL does not parse: %s", sql)
	}
	if len(stmts) != 1 {
		return srverr.New(srverr.KindParseError, "rendered meta SQL is not a single statement: %s", sql)
	}
	got := stmts[0].Command
	if got == want {
		return nil
	}
	if want == statement.CmdInsert && got == statement.Command("REPLACE") {
		return nil
	}
	return srverr.New(srverr.KindParseError, "rendered meta SQL %q classified as %s, expected %s", sql, got, want)
}

func q(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func renderCreateUser(st statement.Statement, alias string) string {
	u := st.User.Users[0]
	pw := "NULL"
	if u.Password != nil {
		pw = q(*u.Password)
	}
	sa := 0
	if u.SuperUser != nil && *u.SuperUser {
		sa = 1
	}
	authMethod := u.AuthMethod
	if authMethod == "" {
		authMethod = "md5"
	}
	return fmt.Sprintf(
		`insert into '%s'.user(host, user, password, protocol, auth_method, sa) values(%s, %s, %s, %s, %s, %d)`,
		alias, q(u.Host), q(u.User), pw, q(u.Protocol), q(authMethod), sa)
}

// renderAlterUser renders only the attributes the ALTER USER statement
// actually set, per spec.md §4.2.
func renderAlterUser(st statement.Statement, alias string) string {
	u := st.User.Users[0]
	var sets []string
	if u.Password != nil {
		sets = append(sets, "password = "+q(*u.Password))
	}
	if u.SuperUser != nil {
		sa := 0
		if *u.SuperUser {
			sa = 1
		}
		sets = append(sets, fmt.Sprintf("sa = %d", sa))
	}
	if u.HasIdentified && u.Password == nil {
		sets = append(sets, "protocol = "+q(u.Protocol))
		if u.AuthMethod != "" {
			sets = append(sets, "auth_method = "+q(u.AuthMethod))
		}
	}
	if len(sets) == 0 {
		// Nothing to change; still render a syntactically valid no-op
		// update so the statement re-parses as expected.
		sets = append(sets, "host = host")
	}
	return fmt.Sprintf(
		`update '%s'.user set %s where host = %s and user = %s and protocol = %s`,
		alias, strings.Join(sets, ", "), q(u.Host), q(u.User), q(u.Protocol))
}

func renderDropUser(st statement.Statement, alias string) string {
	var clauses []string
	for _, u := range st.User.Users {
		clauses = append(clauses, fmt.Sprintf("(host = %s and user = %s and protocol = %s)", q(u.Host), q(u.User), q(u.Protocol)))
	}
	return fmt.Sprintf(`delete from '%s'.user where %s`, alias, strings.Join(clauses, " or "))
}

func renderCreateDatabase(st statement.Statement, alias string) string {
	d := st.Database
	dir := "NULL"
	if d.HasDir {
		dir = q(d.Dir)
	}
	return fmt.Sprintf(`insert into '%s'.catalog(db, dir) values(%s, %s)`, alias, q(d.Name), dir)
}

func renderDropDatabase(st statement.Statement, alias string) string {
	d := st.Database
	return fmt.Sprintf(`delete from '%s'.catalog where db = %s`, alias, q(d.Name))
}

// grantTarget computes the db(host,user,db) table's "db" column value for
// a privilege list: the literal sentinel "all" if ALL privileges were
// granted (spec.md §8 scenario 3), else the first specific privilege name.
// The db(host,user,db) table has no privilege column of its own; a grant
// of specific privileges is recorded against the privilege name, not the
// database name, matching the rendering in spec.md §8 verbatim.
func grantTarget(privileges []string) string {
	for _, p := range privileges {
		if p == "all" {
			return "all"
		}
	}
	if len(privileges) > 0 {
		return privileges[0]
	}
	return "all"
}

func renderGrant(st statement.Statement, alias string) string {
	target := grantTarget(st.Grant.Privileges)
	var rows []string
	for _, g := range st.Grant.Grantees {
		rows = append(rows, fmt.Sprintf("(%s,%s,%s)", q(g.Host), q(g.User), q(target)))
	}
	// No space between the closing paren of the column list and VALUES,
	// matching spec.md §8 scenario 3's rendered form exactly.
	return fmt.Sprintf(`replace into '%s'.db(host, user, db)values%s`, alias, strings.Join(rows, ","))
}

func renderRevoke(st statement.Statement, alias string) string {
	target := grantTarget(st.Grant.Privileges)
	var clauses []string
	for _, g := range st.Grant.Grantees {
		clauses = append(clauses, fmt.Sprintf("(host = %s and user = %s and db = %s)", q(g.Host), q(g.User), q(target)))
	}
	return fmt.Sprintf(`delete from '%s'.db where %s`, alias, strings.Join(clauses, " or "))
}
