// Package bootstrap implements the initdb behavior SPEC_FULL.md's
// supplemented-features section adds for spec.md §6's CLI entry point:
// create the data directory, create the meta database and its schema,
// and insert the super-admin user row.
package bootstrap

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sqlited/sqlited/internal/auth"
	"github.com/sqlited/sqlited/internal/engine"
	"github.com/sqlited/sqlited/internal/meta"
	"github.com/sqlited/sqlited/internal/srverr"
	"github.com/sqlited/sqlited/internal/statement"
)

// SuperAdminUser is the identity initdb creates, matching the root@%
// identity every other fixture and test in this module already assumes.
const SuperAdminUser = "root"

// InitDB creates dataDir if necessary, opens (and so implicitly creates)
// the meta database under it, and inserts a super-admin user authenticated
// by password, per spec.md §6's `initdb -D <dataDir> -p <password>`.
func InitDB(ctx context.Context, dataDir, password string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return srverr.Wrap(srverr.KindIOError, err, "create data directory %q", dataDir)
	}

	metaPath := filepath.Join(dataDir, "meta.db")
	reg, err := meta.Open(ctx, metaPath, "meta")
	if err != nil {
		return err
	}
	defer reg.Close()

	hash, err := auth.HashForStorage("password", password)
	if err != nil {
		return err
	}

	existing, err := reg.LookupUser(ctx, "%", SuperAdminUser, "pg")
	if err != nil {
		return err
	}
	if existing != nil {
		return srverr.New(srverr.KindUniqueViolation, "super-admin user %q already exists", SuperAdminUser)
	}

	superUser := true
	eng := engine.New()
	conn, err := eng.Open(ctx, metaPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Exec(ctx, `ATTACH DATABASE `+quoteLiteral(metaPath)+` AS "`+reg.Alias()+`"`); err != nil {
		return err
	}

	return reg.Apply(ctx, conn, statement.Statement{
		Command: statement.CmdCreateUser,
		User: &statement.UserArgs{Users: []statement.UserAuth{{
			Host:          "%",
			User:          SuperAdminUser,
			Protocol:      "pg",
			AuthMethod:    "password",
			Password:      &hash,
			SuperUser:     &superUser,
			HasIdentified: true,
		}}},
	})
}

// quoteLiteral escapes s as a single-quoted SQL string literal, the same
// minimal escaping internal/processor's selectDatabase uses for its own
// ATTACH DATABASE statement.
func quoteLiteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
		} else {
			out = append(out, s[i])
		}
	}
	out = append(out, '\'')
	return string(out)
}
