// Package sql provides the bundled schema scripts for both engines.
package sql

import (
	_ "embed"
)

// The scripts are embedded at compile time so the binary carries its own
// schema and never reads SQL files at runtime.

// PostgresSchema creates the server schema. Every statement uses
// IF NOT EXISTS. It is applied only when the marker table is absent.
//
//go:embed postgres.sql
var PostgresSchema string

// SQLiteSchema creates the embedded schema. Every statement uses
// IF NOT EXISTS, so it is safe to apply on each start.
//
//go:embed sqlite.sql
var SQLiteSchema string

// Tables lists the tables both scripts create, in creation order.
var Tables = []string{
	"users",
	"sessions",
	"books",
	"bookmarks",
	"reading_progress",
	"subscriptions",
}
