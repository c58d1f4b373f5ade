// Package sqltranslate rewrites canonical SQL into each backend's native form.
//
// Canonical SQL uses "?" for every positional parameter. The translator is the
// only place that knows how backends differ in:
//
//   - placeholder syntax ("?" for SQLite, "$1", "$2", ... for PostgreSQL)
//   - table introspection (pragma_table_info vs. information_schema)
//   - primary key lookup (pragma_table_info vs. pg_index)
//
// Generated keys are reported the same way on both: an INSERT into a table
// with a single integer primary key gains "RETURNING <key>", and the adapter
// reads the id from the returned row. Tables without such a key get no
// clause.
//
// Everything else passes through unchanged. A "?" inside a quoted string
// literal is rewritten like any other; values containing "?" must be passed
// as bound parameters, never spliced into the SQL text.
package sqltranslate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Dialect selects the native SQL form.
type Dialect int

const (
	// DialectSQLite is the embedded engine's dialect.
	DialectSQLite Dialect = iota
	// DialectPostgres is the server engine's dialect.
	DialectPostgres
)

func (d Dialect) String() string {
	switch d {
	case DialectSQLite:
		return "sqlite"
	case DialectPostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

var (
	insertPrefix   = regexp.MustCompile(`(?i)^\s*INSERT\s`)
	insertTarget   = regexp.MustCompile(`(?is)^\s*INSERT\s+(?:OR\s+\w+\s+)?INTO\s+((?:(?:"(?:[^"]|"")+"|[A-Za-z_][\w$]*)\s*\.\s*)?(?:"(?:[^"]|"")+"|[A-Za-z_][\w$]*))`)
	ddlPrefix      = regexp.MustCompile(`(?i)^\s*(CREATE|ALTER|DROP)\s`)
	returningTail  = regexp.MustCompile(`(?is)\bRETURNING\s+[^;]+;?\s*$`)
	trailingSemi   = regexp.MustCompile(`;\s*$`)
	numberedParams = regexp.MustCompile(`\$[0-9]+`)
)

// ForDialect translates canonical SQL for d. For PostgreSQL, placeholders are
// numbered. On both dialects an INSERT without its own RETURNING clause gains
// "RETURNING <key>" when key is not empty.
func ForDialect(query string, d Dialect, key string) string {
	if d == DialectPostgres {
		query = Rebind(query)
	}
	if key == "" {
		return query
	}
	return EnsureReturning(query, key)
}

// Rebind replaces each "?" with "$n", numbering left to right from 1.
func Rebind(query string) string {
	if strings.IndexByte(query, '?') < 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '?' {
			b.WriteByte(c)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// CountPlaceholders counts the parameters referenced by query in dialect d.
// For PostgreSQL it counts "$n" tokens, for SQLite "?" tokens.
func CountPlaceholders(query string, d Dialect) int {
	if d == DialectPostgres {
		return len(numberedParams.FindAllStringIndex(query, -1))
	}
	return strings.Count(query, "?")
}

// IsInsert reports whether query is a plain INSERT statement.
func IsInsert(query string) bool {
	return insertPrefix.MatchString(query)
}

// IsDDL reports whether query creates, alters or drops a schema object.
func IsDDL(query string) bool {
	return ddlPrefix.MatchString(query)
}

// InsertTarget returns the table an INSERT writes to, or "" for any other
// statement. A schema qualifier is dropped. Unquoted names are folded to
// lower case; quoted names are returned verbatim without their quotes.
func InsertTarget(query string) string {
	m := insertTarget.FindStringSubmatch(query)
	if m == nil {
		return ""
	}
	name := m[1]
	if i := lastDot(name); i >= 0 {
		name = strings.TrimSpace(name[i+1:])
	}
	if strings.HasPrefix(name, `"`) {
		return strings.ReplaceAll(name[1:len(name)-1], `""`, `"`)
	}
	return strings.ToLower(name)
}

// lastDot finds the schema separator, skipping dots inside quotes.
func lastDot(name string) int {
	quoted := false
	idx := -1
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '"':
			quoted = !quoted
		case '.':
			if !quoted {
				idx = i
			}
		}
	}
	return idx
}

// HasReturning reports whether query already ends with a RETURNING clause.
func HasReturning(query string) bool {
	return returningTail.MatchString(query)
}

// EnsureReturning appends "RETURNING <key>" to an INSERT that does not
// already return something. Other statements are returned unchanged.
func EnsureReturning(query, key string) string {
	if !IsInsert(query) || HasReturning(query) {
		return query
	}
	body := strings.TrimRight(trailingSemi.ReplaceAllString(query, ""), " \t\r\n")
	return body + " RETURNING " + pq.QuoteIdentifier(key)
}

// ColumnsQuery returns the native introspection query for a table's columns.
// The query takes the table name as its only parameter and yields
// (name, type, nullable, default) ordered by declaration.
func ColumnsQuery(d Dialect) string {
	if d == DialectPostgres {
		return `SELECT column_name, data_type, is_nullable = 'YES', column_default
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`
	}
	return `SELECT name, type, "notnull" = 0, dflt_value
FROM pragma_table_info(?)
ORDER BY cid`
}

// PrimaryKeyQuery returns the native query listing a table's primary key
// columns as (name, type), in key order. It takes the table name as its only
// parameter and yields no rows for a missing table.
func PrimaryKeyQuery(d Dialect) string {
	if d == DialectPostgres {
		return `SELECT a.attname::text, format_type(a.atttypid, NULL)
FROM pg_index i
JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
WHERE i.indrelid = to_regclass(quote_ident($1)) AND i.indisprimary
ORDER BY a.attnum`
	}
	return `SELECT name, type
FROM pragma_table_info(?)
WHERE pk > 0
ORDER BY pk`
}

var integerTypes = map[string]bool{
	"INT":       true,
	"INTEGER":   true,
	"SMALLINT":  true,
	"BIGINT":    true,
	"TINYINT":   true,
	"MEDIUMINT": true,
	"INT2":      true,
	"INT4":      true,
	"INT8":      true,
}

// IntegerKey picks the generated key column from the rows of
// PrimaryKeyQuery. It returns "" unless the key is one integer column.
func IntegerKey(names, types []string) string {
	if len(names) != 1 || len(types) != 1 {
		return ""
	}
	if !integerTypes[strings.ToUpper(strings.TrimSpace(types[0]))] {
		return ""
	}
	return names[0]
}

// TableExistsQuery returns the native query reporting whether a table exists.
// The query takes the table name as its only parameter and yields one
// integer-or-boolean column.
func TableExistsQuery(d Dialect) string {
	if d == DialectPostgres {
		return `SELECT to_regclass(quote_ident($1)) IS NOT NULL`
	}
	return `SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = ?`
}
