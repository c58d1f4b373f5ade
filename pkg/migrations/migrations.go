// Package migrations holds the application's schema changes, applied in
// order after the bundled schema has been bootstrapped.
//
// Append new migrations to All; never rename or reorder existing ones,
// since the ledger matches them by name.
package migrations

import (
	"context"

	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/migrator"
)

// All returns every migration in application order.
func All() []migrator.Migration {
	return []migrator.Migration{
		AddIsAdminToUsers,
		AddRefreshTokenToSessions,
		IndexBooksTitle,
	}
}

// AddIsAdminToUsers adds the users.is_admin flag.
var AddIsAdminToUsers = migrator.Migration{
	Name: "add_is_admin_to_users",
	Apply: func(ctx context.Context, q adapter.Querier) error {
		_, err := migrator.AddColumnIfMissing(ctx, q, "users", "is_admin", "INTEGER DEFAULT 0")
		return err
	},
}

// AddRefreshTokenToSessions lets a session be renewed without logging in.
var AddRefreshTokenToSessions = migrator.Migration{
	Name: "add_refresh_token_to_sessions",
	Apply: func(ctx context.Context, q adapter.Querier) error {
		if _, err := migrator.AddColumnIfMissing(ctx, q, "sessions", "refresh_token", "TEXT"); err != nil {
			return err
		}
		_, err := migrator.AddColumnIfMissing(ctx, q, "sessions", "refresh_expires_at", "TEXT")
		return err
	},
}

// IndexBooksTitle speeds up title search.
var IndexBooksTitle = migrator.Statements("index_books_title",
	"CREATE INDEX IF NOT EXISTS idx_books_title ON books (title)",
)
