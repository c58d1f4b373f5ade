package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/sqltranslate"
)

// statement keeps both the canonical text and its native rewrite.
type statement struct {
	q      *querier
	sql    string
	native string
}

func (s *statement) SQL() string {
	return s.sql
}

func (s *statement) Get(ctx context.Context, args ...any) (adapter.Row, bool, error) {
	if err := s.q.a.guard(ctx); err != nil {
		return nil, false, err
	}
	ctx, cancel := s.q.a.bound(ctx)
	defer cancel()

	rows, err := s.q.ex.Query(ctx, s.native, args...)
	if err != nil {
		return nil, false, statementError(err, s.native)
	}
	m, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, statementError(err, s.native)
	}
	return normalizeRow(m), true, nil
}

func (s *statement) All(ctx context.Context, args ...any) ([]adapter.Row, error) {
	if err := s.q.a.guard(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.q.a.bound(ctx)
	defer cancel()

	rows, err := s.q.ex.Query(ctx, s.native, args...)
	if err != nil {
		return nil, statementError(err, s.native)
	}
	ms, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, statementError(err, s.native)
	}

	out := make([]adapter.Row, 0, len(ms))
	for _, m := range ms {
		out = append(out, normalizeRow(m))
	}
	return out, nil
}

func (s *statement) Run(ctx context.Context, args ...any) (adapter.RunResult, error) {
	if err := s.q.a.guard(ctx); err != nil {
		return adapter.RunResult{}, err
	}
	ctx, cancel := s.q.a.bound(ctx)
	defer cancel()
	if sqltranslate.IsDDL(s.sql) {
		defer s.q.a.keys.Reset()
	}

	query, err := s.q.returning(ctx, s.sql, s.native)
	if err != nil {
		return adapter.RunResult{}, err
	}
	if !sqltranslate.HasReturning(query) {
		tag, err := s.q.ex.Exec(ctx, query, args...)
		if err != nil {
			return adapter.RunResult{}, statementError(err, query)
		}
		return adapter.RunResult{RowsAffected: tag.RowsAffected()}, nil
	}

	rows, err := s.q.ex.Query(ctx, query, args...)
	if err != nil {
		return adapter.RunResult{}, statementError(err, query)
	}
	var (
		first    any
		returned int
	)
	for rows.Next() {
		if returned == 0 {
			vals, err := rows.Values()
			if err != nil {
				rows.Close()
				return adapter.RunResult{}, statementError(err, query)
			}
			if len(vals) > 0 {
				first = normalizeValue(vals[0])
			}
		}
		returned++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return adapter.RunResult{}, statementError(err, query)
	}

	out := adapter.RunResult{RowsAffected: rows.CommandTag().RowsAffected()}
	if returned == 1 && sqltranslate.IsInsert(query) {
		if id, ok := first.(int64); ok {
			out.InsertedID = id
		}
	}
	return out, nil
}
