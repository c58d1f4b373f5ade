package sqlite

import (
	"context"
	"database/sql"

	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/sqltranslate"
)

type statement struct {
	q   *querier
	sql string
}

func (s *statement) SQL() string {
	return s.sql
}

func (s *statement) Get(ctx context.Context, args ...any) (adapter.Row, bool, error) {
	if err := s.q.a.guard(ctx); err != nil {
		return nil, false, err
	}
	rows, err := s.q.ex.QueryContext(context.WithoutCancel(ctx), s.sql, args...)
	if err != nil {
		return nil, false, statementError(err, s.sql)
	}
	out, err := scanRows(rows, 1)
	if err != nil {
		return nil, false, statementError(err, s.sql)
	}
	if len(out) == 0 {
		return nil, false, nil
	}
	return out[0], true, nil
}

func (s *statement) All(ctx context.Context, args ...any) ([]adapter.Row, error) {
	if err := s.q.a.guard(ctx); err != nil {
		return nil, err
	}
	rows, err := s.q.ex.QueryContext(context.WithoutCancel(ctx), s.sql, args...)
	if err != nil {
		return nil, statementError(err, s.sql)
	}
	out, err := scanRows(rows, 0)
	if err != nil {
		return nil, statementError(err, s.sql)
	}
	return out, nil
}

func (s *statement) Run(ctx context.Context, args ...any) (adapter.RunResult, error) {
	if err := s.q.a.guard(ctx); err != nil {
		return adapter.RunResult{}, err
	}
	ctx = context.WithoutCancel(ctx)
	if sqltranslate.IsDDL(s.sql) {
		defer s.q.a.keys.Reset()
	}

	query, err := s.q.native(ctx, s.sql)
	if err != nil {
		return adapter.RunResult{}, err
	}
	if !sqltranslate.HasReturning(query) {
		res, err := s.q.ex.ExecContext(ctx, query, args...)
		if err != nil {
			return adapter.RunResult{}, statementError(err, query)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return adapter.RunResult{}, statementError(err, query)
		}
		return adapter.RunResult{RowsAffected: n}, nil
	}

	rows, err := s.q.ex.QueryContext(ctx, query, args...)
	if err != nil {
		return adapter.RunResult{}, statementError(err, query)
	}
	returned, first, err := scanReturning(rows)
	if err != nil {
		return adapter.RunResult{}, statementError(err, query)
	}

	// Every changed row is returned, including the update path of an upsert.
	out := adapter.RunResult{RowsAffected: returned}
	if returned == 1 && sqltranslate.IsInsert(query) {
		if id, ok := first.(int64); ok {
			out.InsertedID = id
		}
	}
	return out, nil
}

// scanReturning counts the rows of a RETURNING clause and keeps the first
// column of the first row.
func scanReturning(rows *sql.Rows) (int64, any, error) {
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return 0, nil, err
	}
	var (
		n     int64
		first any
	)
	for rows.Next() {
		if n == 0 && len(cols) > 0 {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return 0, nil, err
			}
			first = adapter.NormalizeValue(vals[0])
		}
		n++
	}
	return n, first, rows.Err()
}
