package sqlite

import (
	"context"

	"github.com/pthm/shelfdb/pkg/adapter"
)

// Sync returns a context-free view of the adapter. Embedded calls never
// wait on the network, so blocking call sites may use it directly.
func (a *Adapter) Sync() adapter.SyncQuerier {
	return syncQuerier{q: a.root()}
}

type syncQuerier struct {
	q *querier
}

func (s syncQuerier) Kind() adapter.Kind {
	return adapter.KindSQLite
}

func (s syncQuerier) Prepare(query string) adapter.SyncStatement {
	return syncStatement{st: &statement{q: s.q, sql: query}}
}

func (s syncQuerier) Exec(query string) error {
	return s.q.Exec(context.Background(), query)
}

func (s syncQuerier) Columns(table string) ([]adapter.Column, error) {
	return s.q.Columns(context.Background(), table)
}

type syncStatement struct {
	st *statement
}

func (s syncStatement) SQL() string {
	return s.st.sql
}

func (s syncStatement) Get(args ...any) (adapter.Row, bool, error) {
	return s.st.Get(context.Background(), args...)
}

func (s syncStatement) All(args ...any) ([]adapter.Row, error) {
	return s.st.All(context.Background(), args...)
}

func (s syncStatement) Run(args ...any) (adapter.RunResult, error) {
	return s.st.Run(context.Background(), args...)
}
