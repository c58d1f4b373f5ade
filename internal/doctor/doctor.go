// Package doctor provides health checks for a shelfdb database.
//
// The doctor command opens the configured backend and checks connectivity,
// engine settings, the bootstrapped schema and the migration ledger.
//
// Example usage:
//
//	d := doctor.New(a, migrations.All())
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pthm/shelfdb/pkg/adapter"
	"github.com/pthm/shelfdb/pkg/adapter/postgres"
	"github.com/pthm/shelfdb/pkg/bootstrap"
	"github.com/pthm/shelfdb/pkg/migrator"
	shelfsql "github.com/pthm/shelfdb/sql"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "Connection", "Migrations").
	Category string

	// Name is a short identifier for the check.
	Name string

	Status  Status
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Find returns the first check with the given name.
func (r *Report) Find(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Print writes the report to the given writer, grouped by category in the
// order categories were first seen.
func (r *Report) Print(w io.Writer, verbose bool) {
	categories := make(map[string][]CheckResult)
	var order []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			order = append(order, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, cat := range order {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// journaler is implemented by the SQLite adapter.
type journaler interface {
	JournalMode(ctx context.Context) (string, error)
}

// Doctor checks one adapter against a migration set.
type Doctor struct {
	a          adapter.Adapter
	migrations []migrator.Migration
	marker     string
	tables     []string
}

// New creates a Doctor. The marker table and expected tables default to
// the bundled schema.
func New(a adapter.Adapter, migrations []migrator.Migration) *Doctor {
	return &Doctor{
		a:          a,
		migrations: migrations,
		marker:     bootstrap.DefaultMarker,
		tables:     shelfsql.Tables,
	}
}

// WithTables overrides the marker table and the tables expected to exist.
func (d *Doctor) WithTables(marker string, tables []string) *Doctor {
	d.marker = marker
	d.tables = tables
	return d
}

// Run executes all health checks and returns a report. An error is only
// returned when a check cannot be evaluated at all; failing checks are
// recorded in the report.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	if !d.checkConnection(ctx, report) {
		return report, nil
	}
	if err := d.checkEngine(ctx, report); err != nil {
		return nil, fmt.Errorf("checking engine settings: %w", err)
	}
	if err := d.checkSchema(ctx, report); err != nil {
		return nil, fmt.Errorf("checking schema: %w", err)
	}
	if err := d.checkMigrations(ctx, report); err != nil {
		return nil, fmt.Errorf("checking migrations: %w", err)
	}
	return report, nil
}

func (d *Doctor) checkConnection(ctx context.Context, report *Report) bool {
	if err := d.a.Ping(ctx); err != nil {
		report.AddCheck(CheckResult{
			Category: "Connection",
			Name:     "ping",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Cannot reach %s backend", d.a.Kind()),
			Details:  err.Error(),
			FixHint:  "Check database.backend and the connection settings in shelfdb.yaml",
		})
		return false
	}
	report.AddCheck(CheckResult{
		Category: "Connection",
		Name:     "ping",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Connected to %s backend", d.a.Kind()),
	})
	return true
}

func (d *Doctor) checkEngine(ctx context.Context, report *Report) error {
	switch inner := adapter.Unwrap(d.a).(type) {
	case journaler:
		mode, err := inner.JournalMode(ctx)
		if err != nil {
			return err
		}
		mode = strings.ToLower(mode)
		switch mode {
		case "wal":
			report.AddCheck(CheckResult{
				Category: "Engine",
				Name:     "journal_mode",
				Status:   StatusPass,
				Message:  "Journal mode is WAL",
			})
		case "memory":
			report.AddCheck(CheckResult{
				Category: "Engine",
				Name:     "journal_mode",
				Status:   StatusPass,
				Message:  "In-memory database",
			})
		default:
			report.AddCheck(CheckResult{
				Category: "Engine",
				Name:     "journal_mode",
				Status:   StatusWarn,
				Message:  fmt.Sprintf("Journal mode is %s, not WAL", mode),
				Details:  "Readers will block while a write is in progress",
				FixHint:  "Remove any journal_mode pragma from database.path",
			})
		}
	case *postgres.Adapter:
		st := inner.Stat()
		report.AddCheck(CheckResult{
			Category: "Engine",
			Name:     "pool",
			Status:   StatusPass,
			Message:  fmt.Sprintf("Connection pool up (%d/%d connections)", st.TotalConns(), st.MaxConns()),
			Details: fmt.Sprintf("acquired=%d idle=%d constructing=%d",
				st.AcquiredConns(), st.IdleConns(), st.ConstructingConns()),
		})
	}
	return nil
}

func (d *Doctor) checkSchema(ctx context.Context, report *Report) error {
	found, err := bootstrap.MarkerExists(ctx, d.a, d.marker)
	if err != nil {
		return err
	}
	if !found {
		report.AddCheck(CheckResult{
			Category: "Schema",
			Name:     "marker",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Marker table %q does not exist", d.marker),
			Details:  "The bundled schema has not been applied",
			FixHint:  "Run 'shelfdb bootstrap'",
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: "Schema",
		Name:     "marker",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Marker table %q exists", d.marker),
	})

	var missing []string
	for _, table := range d.tables {
		cols, err := d.a.Columns(ctx, table)
		if err != nil {
			return fmt.Errorf("inspecting %s: %w", table, err)
		}
		if len(cols) == 0 {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		report.AddCheck(CheckResult{
			Category: "Schema",
			Name:     "tables",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d of %d expected tables are missing", len(missing), len(d.tables)),
			Details:  strings.Join(missing, ", "),
			FixHint:  "The schema was created by an older release; add the tables with a migration",
		})
		return nil
	}
	report.AddCheck(CheckResult{
		Category: "Schema",
		Name:     "tables",
		Status:   StatusPass,
		Message:  fmt.Sprintf("All %d expected tables exist", len(d.tables)),
	})
	return nil
}

func (d *Doctor) checkMigrations(ctx context.Context, report *Report) error {
	st, err := migrator.New(d.a, d.migrations, migrator.Options{}).Status(ctx)
	if err != nil {
		return err
	}

	if !st.LedgerExists {
		report.AddCheck(CheckResult{
			Category: "Migrations",
			Name:     "ledger",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%s table does not exist", migrator.LedgerTable),
			Details:  "No migration run has touched this database",
			FixHint:  "Run 'shelfdb migrate'",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "Migrations",
			Name:     "ledger",
			Status:   StatusPass,
			Message:  fmt.Sprintf("%s table exists (%d recorded)", migrator.LedgerTable, len(st.Recorded)),
		})
	}

	if len(st.Pending) > 0 {
		report.AddCheck(CheckResult{
			Category: "Migrations",
			Name:     "pending",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d migrations pending", len(st.Pending)),
			Details:  strings.Join(st.Pending, "\n"),
			FixHint:  "Run 'shelfdb migrate'; a migration that stays pending after a run failed, see the logs",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "Migrations",
			Name:     "pending",
			Status:   StatusPass,
			Message:  "All migrations applied",
		})
	}

	if len(st.Unknown) > 0 {
		report.AddCheck(CheckResult{
			Category: "Migrations",
			Name:     "unknown",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d recorded migrations are not known to this build", len(st.Unknown)),
			Details:  strings.Join(st.Unknown, "\n"),
			FixHint:  "The database was migrated by a newer release",
		})
	}
	return nil
}
