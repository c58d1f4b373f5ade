package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pthm/shelfdb/pkg/adapter"
)

// statementError flattens a pgx error into an *adapter.StatementError.
func statementError(err error, query string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, adapter.ErrAdapterClosed) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return adapter.NewStatementError(adapter.KindPostgres, adapter.ClassTimeout, "", err.Error(), query, ctxCause(err))
	}
	if pgconn.Timeout(err) {
		return adapter.NewStatementError(adapter.KindPostgres, adapter.ClassTimeout, "", err.Error(), query, context.DeadlineExceeded)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return adapter.NewStatementError(adapter.KindPostgres, classify(pgErr.Code), pgErr.Code, pgErr.Message, query, nil)
	}
	return adapter.NewStatementError(adapter.KindPostgres, adapter.ClassUnknown, "", err.Error(), query, nil)
}

func ctxCause(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return context.Canceled
}

// classify maps a SQLSTATE to a Class by its two-character class prefix.
func classify(code string) adapter.Class {
	switch {
	case code == "57014": // query_canceled, raised by statement_timeout
		return adapter.ClassTimeout
	case code == "55P03": // lock_not_available
		return adapter.ClassBusy
	case strings.HasPrefix(code, "23"):
		return adapter.ClassConstraint
	case strings.HasPrefix(code, "40"):
		return adapter.ClassBusy
	case strings.HasPrefix(code, "42"):
		return adapter.ClassSyntax
	default:
		return adapter.ClassUnknown
	}
}
