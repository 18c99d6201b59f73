// Package statement defines the Statement tagged-union produced by
// internal/parser: an immutable value carrying a canonical command tag,
// the predicates spec.md §3 requires, and variant-specific fields.
package statement

// Command is the uppercase canonical command tag. Unrecognized input still
// gets a Command (the uppercased first keyword), just with no structured
// fields populated.
type Command string

const (
	CmdSelect         Command = "SELECT"
	CmdInsert         Command = "INSERT"
	CmdUpdate         Command = "UPDATE"
	CmdDelete         Command = "DELETE"
	CmdBegin          Command = "BEGIN"
	CmdCommit         Command = "COMMIT"
	CmdEnd            Command = "END"
	CmdRollback       Command = "ROLLBACK"
	CmdSavepoint      Command = "SAVEPOINT"
	CmdRelease        Command = "RELEASE"
	CmdSetTransaction Command = "SET TRANSACTION"
	CmdPragma         Command = "PRAGMA"
	CmdAttach         Command = "ATTACH"
	CmdDetach         Command = "DETACH"
	CmdCreateDatabase Command = "CREATE DATABASE"
	CmdDropDatabase   Command = "DROP DATABASE"
	CmdCreateUser     Command = "CREATE USER"
	CmdAlterUser      Command = "ALTER USER"
	CmdDropUser       Command = "DROP USER"
	CmdGrant          Command = "GRANT"
	CmdRevoke         Command = "REVOKE"
	CmdShow           Command = "SHOW" // sub-kind in Statement.Show.Kind
	CmdTruncateTable  Command = "DELETE"
	CmdKill           Command = "KILL"
	CmdEmpty          Command = ""
)

// IsolationLevel is the transaction isolation level enumerated in spec.md §3.
type IsolationLevel string

const (
	ReadUncommitted IsolationLevel = "READ_UNCOMMITTED"
	ReadCommitted   IsolationLevel = "READ_COMMITTED"
	RepeatableRead  IsolationLevel = "REPEATABLE_READ"
	Serializable    IsolationLevel = "SERIALIZABLE"
)

// Behavior is the BEGIN behavior enumerated in spec.md §3.
type Behavior string

const (
	Deferred  Behavior = "DEFERRED"
	Immediate Behavior = "IMMEDIATE"
	Exclusive Behavior = "EXCLUSIVE"
)

// TxMode is the (read-only, isolation, behavior) triple from spec.md §3.
// ReadOnly is a *bool so nil means "unspecified, inherits session".
type TxMode struct {
	ReadOnly  *bool
	Isolation IsolationLevel
	Behavior  Behavior
}

// DefaultTxMode is the triple a bare BEGIN with no tx-mode-list produces.
func DefaultTxMode() TxMode {
	return TxMode{Isolation: Serializable, Behavior: Deferred}
}

// Statement is immutable once returned from the parser.
type Statement struct {
	Text    string // original source text of this statement
	Command Command

	Empty   bool
	Comment bool

	// SELECT
	ForUpdate   bool   // "FOR UPDATE" suffix recognized at top level
	SleepArg    *int64 // non-nil when the trailing SLEEP(n) shape was recognized
	ExecSQL     string // text to hand to the engine (may exclude a stripped "FOR UPDATE")

	// INSERT
	Returning       bool
	ReturningColumn string // verbatim text after RETURNING, to end of statement

	// TRUNCATE (re-tagged as DELETE)
	Truncate *TruncateArgs

	// BEGIN / SET TRANSACTION
	TxMode         *TxMode
	SessionScope   bool // true for SET SESSION CHARACTERISTICS AS TRANSACTION

	// COMMIT/END/ROLLBACK/SAVEPOINT/RELEASE
	SavepointName string // target name, empty if none

	// ATTACH/DETACH
	Attach *AttachArgs

	// PRAGMA
	Pragma *PragmaArgs

	// CREATE/DROP DATABASE|SCHEMA
	Database *DatabaseArgs

	// CREATE/ALTER/DROP USER
	User *UserArgs

	// GRANT/REVOKE
	Grant *GrantArgs

	// SHOW
	Show *ShowArgs

	// KILL
	Kill *KillArgs
}

type TruncateArgs struct {
	Schema string
	Table  string
}

type AttachArgs struct {
	Path   string // only set for ATTACH
	Schema string
	Detach bool
}

type PragmaArgs struct {
	Schema string
	Name   string
	// HasValue distinguishes "PRAGMA x" (a query, reads current value) from
	// "PRAGMA x = v" / "PRAGMA x(v)" (a write of the pragma value).
	HasValue bool
	Value    string // verbatim textual form of the value, if HasValue
}

type DatabaseArgs struct {
	Drop        bool
	IfExists    bool // meaningful for both CREATE (IF NOT EXISTS) and DROP (IF EXISTS)
	Name        string
	Dir         string // LOCATION/DIRECTORY path, empty if unset
	HasDir      bool
}

type UserAuth struct {
	Host          string
	User          string
	SuperUser     *bool // nil = unspecified; non-nil = last-wins SUPERUSER/NOSUPERUSER
	Password      *string
	Protocol      string // default "pg" if IDENTIFIED WITH given without explicit protocol use
	AuthMethod    string // default "md5"
	HasIdentified bool
}

type UserArgs struct {
	Drop  bool
	Alter bool
	Users []UserAuth // CREATE/ALTER carry exactly one; DROP may carry a list
}

type GrantArgs struct {
	Revoke     bool
	Privileges []string // canonicalized lower-case, "all" for ALL [PRIVILEGES]
	Databases  []string
	Grantees   []UserHostRef
}

type UserHostRef struct {
	User string
	Host string
}

type ShowKind string

const (
	ShowColumns     ShowKind = "COLUMNS"
	ShowCreateIndex ShowKind = "CREATE_INDEX"
	ShowCreateTable ShowKind = "CREATE_TABLE"
	ShowDatabases   ShowKind = "DATABASES"
	ShowGrants      ShowKind = "GRANTS"
	ShowIndexes     ShowKind = "INDEXES"
	ShowProcesslist ShowKind = "PROCESSLIST"
	ShowStatus      ShowKind = "STATUS"
	ShowTables      ShowKind = "TABLES"
	ShowUsers       ShowKind = "USERS"
)

type ShowArgs struct {
	Kind ShowKind

	// COLUMNS / INDEXES / CREATE TABLE / CREATE INDEX
	Schema string
	Target string // table or index name
	FromSchema string // secondary "FROM schema" clause

	Extended bool // SHOW INDEXES EXTENDED
	ColumnsOnly bool

	// DATABASES
	All bool

	// GRANTS
	ForUser *UserHostRef
	ForCurrentUser bool

	// PROCESSLIST
	Full bool

	// TABLES / USERS / INDEXES
	Like    string
	HasLike bool
}

type KillArgs struct {
	Query bool // true = KILL QUERY, false = KILL CONNECTION (default)
	ID    int64
}

// IsQuery implements spec.md §8's invariant:
// isQuery <=> command in {SELECT, SHOW *, ATTACH, DETACH, PRAGMA (no-value)}.
func (s Statement) IsQuery() bool {
	switch s.Command {
	case CmdSelect, CmdShow, CmdAttach, CmdDetach:
		return true
	case CmdPragma:
		return s.Pragma != nil && !s.Pragma.HasValue
	default:
		return false
	}
}

// IsTransaction implements spec.md §8's invariant:
// isTransaction <=> command in {BEGIN, COMMIT, END, ROLLBACK, SAVEPOINT, RELEASE}.
func (s Statement) IsTransaction() bool {
	switch s.Command {
	case CmdBegin, CmdCommit, CmdEnd, CmdRollback, CmdSavepoint, CmdRelease:
		return true
	default:
		return false
	}
}

// IsEmpty implements the empty/comment predicates from spec.md §3.
func (s Statement) IsEmpty() bool { return s.Empty }

// ExecSQLOr returns ExecSQL if the recognizer populated it (SELECT,
// UPDATE, DELETE, TRUNCATE), else falls back to the original source text
// -- recognizers that have no reason to rewrite the executed SQL (PRAGMA,
// SHOW, GRANT, etc.) leave ExecSQL empty.
func (s Statement) ExecSQLOr(fallback string) string {
	if s.ExecSQL != "" {
		return s.ExecSQL
	}
	return fallback
}

// IsWriting reports whether executing this statement (outside the
// transaction-control family, which bypasses checkPermission per spec.md
// §4.4) requires the process-wide write lock.
func (s Statement) IsWriting() bool {
	switch s.Command {
	case CmdInsert, CmdUpdate, CmdDelete,
		CmdCreateDatabase, CmdDropDatabase,
		CmdCreateUser, CmdAlterUser, CmdDropUser,
		CmdGrant, CmdRevoke,
		Command("CREATE"), Command("ALTER"), Command("DROP"):
		return true
	default:
		return false
	}
}
