package parser

import (
	"github.com/sqlited/sqlited/internal/statement"
)

// parseBegin recognizes BEGIN|START [behavior] [TRANSACTION|WORK] [tx-mode-list].
func parseBegin(sc *scanner, text string) (statement.Statement, error) {
	sc.tryKeywords("BEGIN", "START")

	mode := statement.DefaultTxMode()

	switch sc.tryKeywords("DEFERRED", "IMMEDIATE", "EXCLUSIVE") {
	case "DEFERRED":
		mode.Behavior = statement.Deferred
	case "IMMEDIATE":
		mode.Behavior = statement.Immediate
	case "EXCLUSIVE":
		mode.Behavior = statement.Exclusive
	}

	sc.tryKeywords("TRANSACTION", "WORK")

	if err := applyTxModeList(sc, &mode); err != nil {
		return statement.Statement{}, err
	}

	return statement.Statement{Text: text, Command: statement.CmdBegin, TxMode: &mode}, nil
}

// parseRollback recognizes ROLLBACK [TRANSACTION] [TO [SAVEPOINT] name].
func parseRollback(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("ROLLBACK")
	sc.consumeKeyword("TRANSACTION")

	st := statement.Statement{Text: text, Command: statement.CmdRollback}
	if sc.consumeKeyword("TO") {
		sc.consumeKeyword("SAVEPOINT")
		name, err := sc.readIdent()
		if err != nil {
			return statement.Statement{}, err
		}
		st.SavepointName = name
	}
	return st, nil
}

// parseSavepoint recognizes SAVEPOINT name.
func parseSavepoint(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("SAVEPOINT")
	name, err := sc.readIdent()
	if err != nil {
		return statement.Statement{}, err
	}
	return statement.Statement{Text: text, Command: statement.CmdSavepoint, SavepointName: name}, nil
}

// parseRelease recognizes RELEASE [SAVEPOINT] name.
func parseRelease(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("RELEASE")
	sc.consumeKeyword("SAVEPOINT")
	name, err := sc.readIdent()
	if err != nil {
		return statement.Statement{}, err
	}
	return statement.Statement{Text: text, Command: statement.CmdRelease, SavepointName: name}, nil
}

// parseSetTransaction recognizes SET TRANSACTION <tx-mode-list> and
// SET SESSION CHARACTERISTICS AS TRANSACTION <tx-mode-list>.
func parseSetTransaction(sc *scanner, text string) (statement.Statement, error) {
	sc.consumeKeyword("SET")

	sessionScope := false
	if sc.consumeKeyword("SESSION") {
		if !sc.consumeKeyword("CHARACTERISTICS") {
			return statement.Statement{Text: text, Command: statement.Command("SET")}, nil
		}
		sc.consumeKeyword("AS")
		sessionScope = true
	}

	if !sc.consumeKeyword("TRANSACTION") {
		return statement.Statement{Text: text, Command: statement.Command("SET")}, nil
	}

	mode := statement.DefaultTxMode()
	if err := applyTxModeList(sc, &mode); err != nil {
		return statement.Statement{}, err
	}

	return statement.Statement{
		Text:         text,
		Command:      statement.CmdSetTransaction,
		TxMode:       &mode,
		SessionScope: sessionScope,
	}, nil
}

// applyTxModeList parses a comma-separated tx-mode-list (READ ONLY |
// READ WRITE | ISOLATION LEVEL <level>) into mode, in place.
func applyTxModeList(sc *scanner, mode *statement.TxMode) error {
	for {
		save := sc.pos
		if sc.consumeKeyword("READ") {
			switch sc.tryKeywords("ONLY", "WRITE") {
			case "ONLY":
				ro := true
				mode.ReadOnly = &ro
			case "WRITE":
				ro := false
				mode.ReadOnly = &ro
			default:
				sc.pos = save
				return nil
			}
		} else if sc.consumeKeyword("ISOLATION") {
			if !sc.consumeKeyword("LEVEL") {
				return sc.errAt(sc.pos, "expected LEVEL after ISOLATION")
			}
			lvl, err := parseIsolationLevel(sc)
			if err != nil {
				return err
			}
			mode.Isolation = lvl
		} else {
			sc.pos = save
			return nil
		}

		if !consumeComma(sc) {
			return nil
		}
	}
}

func consumeComma(sc *scanner) bool {
	if !sc.eof() && sc.src[sc.pos] == ',' {
		sc.pos++
		_ = sc.skipSpaceAndComments()
		return true
	}
	return false
}

func parseIsolationLevel(sc *scanner) (statement.IsolationLevel, error) {
	if sc.consumeKeyword("READ") {
		switch sc.tryKeywords("UNCOMMITTED", "COMMITTED") {
		case "UNCOMMITTED":
			return statement.ReadUncommitted, nil
		case "COMMITTED":
			return statement.ReadCommitted, nil
		}
		return "", sc.errAt(sc.pos, "expected UNCOMMITTED or COMMITTED")
	}
	if sc.consumeKeyword("REPEATABLE") {
		if !sc.consumeKeyword("READ") {
			return "", sc.errAt(sc.pos, "expected READ after REPEATABLE")
		}
		return statement.RepeatableRead, nil
	}
	if sc.consumeKeyword("SERIALIZABLE") {
		return statement.Serializable, nil
	}
	return "", sc.errAt(sc.pos, "expected isolation level")
}
