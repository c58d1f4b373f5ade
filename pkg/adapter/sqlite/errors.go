package sqlite

import (
	"context"
	"errors"
	"strconv"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/pthm/shelfdb/pkg/adapter"
)

// statementError flattens a driver error into an *adapter.StatementError.
func statementError(err error, query string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, adapter.ErrAdapterClosed) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return adapter.NewStatementError(adapter.KindSQLite, adapter.ClassTimeout, "", err.Error(), query, err)
	}

	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return adapter.NewStatementError(adapter.KindSQLite, classify(code), strconv.Itoa(code), se.Error(), query, nil)
	}
	return adapter.NewStatementError(adapter.KindSQLite, adapter.ClassUnknown, "", err.Error(), query, nil)
}

// classify maps an extended result code to a Class using its primary code.
func classify(code int) adapter.Class {
	switch code & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return adapter.ClassConstraint
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return adapter.ClassBusy
	case sqlite3.SQLITE_INTERRUPT:
		return adapter.ClassTimeout
	case sqlite3.SQLITE_ERROR:
		return adapter.ClassSyntax
	default:
		return adapter.ClassUnknown
	}
}
