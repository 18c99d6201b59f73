// Package meta implements the private registry database described in
// spec.md §4.2: users, hosts, database catalogs, and per-database grants,
// plus rendering of meta-affecting Statements into SQL against it.
package meta

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/sqlited/sqlited/internal/engine"
	"github.com/sqlited/sqlited/internal/srverr"
	"github.com/sqlited/sqlited/internal/statement"
)

// Registry owns the meta database file and the alias every processor
// connection attaches it under.
type Registry struct {
	db    *sql.DB
	path  string
	alias string
	cache *lookupCache
}

// Open creates (if necessary) and opens the meta database at path,
// ensuring its schema exists, under the given attach alias.
func Open(ctx context.Context, path, alias string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, srverr.Wrap(srverr.KindIOError, err, "open meta database %q", path)
	}
	db.SetMaxOpenConns(1) // single writer, matches the process-wide write lock

	r := &Registry{db: db, path: path, alias: alias, cache: newLookupCache(4096)}
	if err := r.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Path returns the on-disk location of the meta database, so a processor
// can ATTACH it under Alias() on its own logical-database connection
// before running Render's alias-qualified SQL there.
func (r *Registry) Path() string { return r.path }

// Close releases the underlying database handle.
func (r *Registry) Close() error { return r.db.Close() }

// Alias returns the schema alias this registry is attached under.
func (r *Registry) Alias() string { return r.alias }

const schemaDDL = `
CREATE TABLE IF NOT EXISTS user (
	host        TEXT NOT NULL,
	user        TEXT NOT NULL,
	password    TEXT,
	protocol    TEXT NOT NULL,
	auth_method TEXT NOT NULL,
	sa          INTEGER NOT NULL DEFAULT 0,
	UNIQUE(host, user, protocol)
);
CREATE TABLE IF NOT EXISTS db (
	host TEXT NOT NULL,
	user TEXT NOT NULL,
	db   TEXT NOT NULL,
	UNIQUE(host, user, db)
);
CREATE TABLE IF NOT EXISTS catalog (
	db  TEXT NOT NULL UNIQUE,
	dir TEXT
);
`

func (r *Registry) ensureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaDDL); err != nil {
		return srverr.Wrap(srverr.KindIOError, err, "create meta schema")
	}
	return nil
}

// User is one row of the meta user table.
type User struct {
	Host       string
	User       string
	Password   string
	Protocol   string
	AuthMethod string
	SuperUser  bool
}

// Catalog is one row of the meta catalog table: the on-disk location of a
// logical database, if one was given at creation time.
type Catalog struct {
	DB  string
	Dir string // empty means no LOCATION/DIRECTORY was given
}

// LookupUser resolves (host, user, protocol) to its stored credentials.
// Results are cached; callers must call InvalidateUser after any statement
// that writes the user table.
func (r *Registry) LookupUser(ctx context.Context, host, user, protocol string) (*User, error) {
	key := cacheKeyUser(host, user, protocol)
	if v, ok := r.cache.get(key); ok {
		if v == nil {
			return nil, nil
		}
		u := v.(User)
		return &u, nil
	}

	row := r.db.QueryRowContext(ctx,
		`select host, user, coalesce(password, ''), protocol, auth_method, sa from user where host = ? and user = ? and protocol = ?`,
		host, user, protocol)

	var u User
	var sa int
	if err := row.Scan(&u.Host, &u.User, &u.Password, &u.Protocol, &u.AuthMethod, &sa); err != nil {
		if err == sql.ErrNoRows {
			r.cache.put(key, nil)
			return nil, nil
		}
		return nil, srverr.Wrap(srverr.KindIOError, err, "lookup user %s@%s", user, host)
	}
	u.SuperUser = sa != 0
	r.cache.put(key, u)
	return &u, nil
}

// HostAllowed reports whether any user row permits connections from host,
// used by the server's allow-list check ahead of authentication.
func (r *Registry) HostAllowed(ctx context.Context, host string) (bool, error) {
	key := cacheKeyHost(host)
	if v, ok := r.cache.get(key); ok {
		return v.(bool), nil
	}

	row := r.db.QueryRowContext(ctx,
		`select count(*) from user where host = ? or host = '%'`, host)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, srverr.Wrap(srverr.KindIOError, err, "host lookup %s", host)
	}
	allowed := n > 0
	r.cache.put(key, allowed)
	return allowed, nil
}

// HasPrivilege reports whether (host, user) holds the named privilege, per
// the db(host,user,db) grant table described in spec.md §4.2: a row whose
// db column holds the privilege name or "all" matches. The db argument is
// used only in the error message; grants are not narrowed by database.
func (r *Registry) HasPrivilege(ctx context.Context, host, user, db, privilege string) (bool, error) {
	row := r.db.QueryRowContext(ctx,
		`select count(*) from db where host = ? and user = ? and db in (?, ?)`,
		host, user, grantTarget([]string{privilege}), "all")
	var n int
	if err := row.Scan(&n); err != nil {
		return false, srverr.Wrap(srverr.KindIOError, err, "privilege lookup %s@%s on %s", user, host, db)
	}
	return n > 0, nil
}

// CatalogLookup resolves a logical database name to its catalog row, or
// nil if no CREATE DATABASE has ever recorded one.
func (r *Registry) CatalogLookup(ctx context.Context, db string) (*Catalog, error) {
	row := r.db.QueryRowContext(ctx,
		`select db, coalesce(dir, '') from catalog where db = ?`, db)
	var c Catalog
	if err := row.Scan(&c.DB, &c.Dir); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, srverr.Wrap(srverr.KindIOError, err, "catalog lookup %s", db)
	}
	return &c, nil
}

// InvalidateUser drops any cached negative/positive lookup for the triple,
// called after CREATE/ALTER/DROP USER commits.
func (r *Registry) InvalidateUser(host, user, protocol string) {
	r.cache.delete(cacheKeyUser(host, user, protocol))
}

// InvalidateHost drops the cached allow-list verdict for host.
func (r *Registry) InvalidateHost(host string) {
	r.cache.delete(cacheKeyHost(host))
}

// Apply renders st against the registry's alias and executes it against
// conn -- a processor's own logical-database connection, which must have
// this registry's file ATTACHed under Alias() (see Path()) -- then
// invalidates any cache entries the statement could have made stale. Only
// meta-affecting commands (CREATE/ALTER/DROP USER, CREATE/DROP DATABASE,
// GRANT/REVOKE) should be passed; callers gate on Statement.IsWriting()
// combined with the command family first.
func (r *Registry) Apply(ctx context.Context, conn engine.Conn, st statement.Statement) error {
	rendered, err := Render(st, r.alias)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, rendered); err != nil {
		return srverr.Wrap(srverr.KindIOError, err, "apply meta statement")
	}
	r.invalidateFor(st)
	return nil
}

func (r *Registry) invalidateFor(st statement.Statement) {
	switch st.Command {
	case statement.CmdCreateUser, statement.CmdAlterUser:
		for _, u := range st.User.Users {
			r.InvalidateUser(u.Host, u.User, u.Protocol)
			r.InvalidateHost(u.Host)
		}
	case statement.CmdDropUser:
		for _, u := range st.User.Users {
			r.InvalidateUser(u.Host, u.User, u.Protocol)
			r.InvalidateHost(u.Host)
		}
	case statement.CmdGrant, statement.CmdRevoke:
		// Privilege lookups are not cached (HasPrivilege always hits the
		// database), so grants/revokes need no cache invalidation.
	}
}
