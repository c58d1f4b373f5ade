// Package migrator applies an ordered set of named schema changes exactly
// once per database.
//
// Applied migrations are recorded by name in the ledger table. On each run
// the ledger is read, and every migration not yet recorded is applied in
// declaration order, one at a time. A migration and its ledger row are
// written in a single transaction, so a migration is either fully applied
// and recorded or neither.
//
// # Usage
//
//	r := migrator.New(a, migrations.All(), migrator.Options{})
//	report, err := r.Run(ctx)
//	if err != nil {
//	    // one or more migrations failed; the rest were still attempted
//	}
//
// Migrations should be written check-before-alter (see AddColumnIfMissing)
// so that a database changed out of band does not fail the run.
package migrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pthm/shelfdb/pkg/adapter"
)

// Migration is one named schema change. Apply runs inside a transaction and
// receives the transaction's querier.
type Migration struct {
	Name  string
	Apply func(ctx context.Context, q adapter.Querier) error
}

// State is the lifecycle of a migration within one run.
type State int

const (
	// Pending migrations are not in the ledger.
	Pending State = iota
	// Applying migrations are running inside their transaction.
	Applying
	// Recorded migrations are applied and in the ledger.
	Recorded
	// Failed migrations returned an error and were rolled back.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Applying:
		return "applying"
	case Recorded:
		return "recorded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one migration attempted by Run.
type Outcome struct {
	Name     string
	State    State
	Err      error
	Duration time.Duration
}

// Report summarizes a run.
type Report struct {
	// Skipped lists migrations already in the ledger.
	Skipped []string
	// Outcomes lists every migration attempted, in order. In dry-run mode
	// it lists the pending migrations with State Pending.
	Outcomes []Outcome
}

// Applied returns the names recorded by this run.
func (r *Report) Applied() []string {
	return r.names(Recorded)
}

// Failed returns the names that failed in this run.
func (r *Report) Failed() []string {
	return r.names(Failed)
}

func (r *Report) names(s State) []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.State == s {
			out = append(out, o.Name)
		}
	}
	return out
}

// Options controls Run.
type Options struct {
	// FailFast stops the run at the first failing migration. By default a
	// failure is logged and the remaining migrations are still attempted.
	FailFast bool

	// DryRun lists pending migrations to the writer without applying them.
	// Nothing is written to the database; a missing ledger table is shown
	// in the plan but not created.
	DryRun io.Writer

	Logger *slog.Logger
}

// Runner applies a fixed migration set to one adapter.
type Runner struct {
	a          adapter.Adapter
	migrations []Migration
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a runner. The migration slice is applied in order.
func New(a adapter.Adapter, migrations []Migration, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		a:          a,
		migrations: migrations,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Validate checks the migration set for empty or duplicate names.
func Validate(migrations []Migration) error {
	seen := make(map[string]bool, len(migrations))
	for i, m := range migrations {
		if m.Name == "" {
			return fmt.Errorf("%w (position %d)", ErrEmptyName, i)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, m.Name)
		}
		if m.Apply == nil {
			return fmt.Errorf("%w: %q", ErrNoApply, m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// Run applies every pending migration. The returned error joins one
// *MigrationError per failed migration; setup failures (invalid set,
// unreadable ledger) are returned before anything is applied.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := Validate(r.migrations); err != nil {
		return nil, err
	}
	entries, err := r.loadLedger(ctx)
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]bool, len(entries))
	for _, e := range entries {
		recorded[e.Name] = true
	}

	report := &Report{}
	var pending []Migration
	for _, m := range r.migrations {
		if recorded[m.Name] {
			report.Skipped = append(report.Skipped, m.Name)
			continue
		}
		pending = append(pending, m)
	}

	if r.opts.DryRun != nil {
		r.outputDryRun(r.opts.DryRun, len(entries), pending)
		for _, m := range pending {
			report.Outcomes = append(report.Outcomes, Outcome{Name: m.Name, State: Pending})
		}
		return report, nil
	}

	var errs []error
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("migration run interrupted before %q: %w", m.Name, err))
			break
		}

		out := r.apply(ctx, m)
		report.Outcomes = append(report.Outcomes, out)
		if out.State == Failed {
			errs = append(errs, out.Err)
			if r.opts.FailFast {
				break
			}
		}
	}

	r.logger.Info("migrations complete",
		"kind", r.a.Kind(),
		"applied", len(report.Applied()),
		"failed", len(report.Failed()),
		"skipped", len(report.Skipped),
	)
	return report, errors.Join(errs...)
}

// loadLedger reads the recorded migrations. Outside dry-run mode the
// ledger table is created first.
func (r *Runner) loadLedger(ctx context.Context) ([]LedgerEntry, error) {
	if r.opts.DryRun == nil {
		if err := ensureLedger(ctx, r.a); err != nil {
			return nil, err
		}
		return readLedger(ctx, r.a)
	}

	exists, err := LedgerExists(ctx, r.a)
	if err != nil {
		return nil, fmt.Errorf("checking ledger table: %w", err)
	}
	if !exists {
		return nil, nil
	}
	return readLedger(ctx, r.a)
}

func (r *Runner) apply(ctx context.Context, m Migration) Outcome {
	out := Outcome{Name: m.Name, State: Applying}
	start := time.Now()
	r.logger.Debug("applying migration", "kind", r.a.Kind(), "migration", m.Name, "outcome", out.State)

	err := r.a.InTx(ctx, func(q adapter.Querier) error {
		if err := m.Apply(ctx, q); err != nil {
			return err
		}
		return record(ctx, q, m.Name, r.now())
	})
	out.Duration = time.Since(start)

	if err != nil {
		out.State = Failed
		out.Err = &MigrationError{Name: m.Name, Err: err}
		r.logger.Error("migration failed",
			"kind", r.a.Kind(),
			"migration", m.Name,
			"outcome", out.State,
			"duration", out.Duration,
			"error", err,
		)
		return out
	}

	out.State = Recorded
	r.logger.Info("migration applied",
		"kind", r.a.Kind(),
		"migration", m.Name,
		"outcome", out.State,
		"duration", out.Duration,
	)
	return out
}

// Status describes the ledger relative to the runner's migration set.
type Status struct {
	// LedgerExists is false on a database no run has touched.
	LedgerExists bool
	// Recorded lists ledger entries in application order.
	Recorded []LedgerEntry
	// Pending lists migrations not yet recorded, in declaration order.
	Pending []string
	// Unknown lists ledger entries with no matching migration.
	Unknown []string
}

// Status reads the ledger without creating it.
func (r *Runner) Status(ctx context.Context) (*Status, error) {
	st := &Status{}

	exists, err := LedgerExists(ctx, r.a)
	if err != nil {
		return nil, fmt.Errorf("checking ledger table: %w", err)
	}
	st.LedgerExists = exists

	recorded := map[string]bool{}
	if exists {
		entries, err := readLedger(ctx, r.a)
		if err != nil {
			return nil, err
		}
		st.Recorded = entries
		for _, e := range entries {
			recorded[e.Name] = true
		}
	}

	known := make(map[string]bool, len(r.migrations))
	for _, m := range r.migrations {
		known[m.Name] = true
		if !recorded[m.Name] {
			st.Pending = append(st.Pending, m.Name)
		}
	}
	for _, e := range st.Recorded {
		if !known[e.Name] {
			st.Unknown = append(st.Unknown, e.Name)
		}
	}
	return st, nil
}

// outputDryRun writes the pending plan to w.
func (r *Runner) outputDryRun(w io.Writer, recorded int, pending []Migration) {
	_, _ = fmt.Fprintf(w, "-- shelfdb migrations (dry-run)\n")
	_, _ = fmt.Fprintf(w, "-- Backend: %s\n", r.a.Kind())
	_, _ = fmt.Fprintf(w, "-- Recorded: %d\n", recorded)
	_, _ = fmt.Fprintf(w, "-- Pending: %d\n", len(pending))
	_, _ = fmt.Fprintf(w, "\n")

	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- Ledger Table\n")
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	_, _ = fmt.Fprintf(w, "%s;\n\n", ledgerDDL(r.a.Kind()))

	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- Pending Migrations\n")
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	if len(pending) == 0 {
		_, _ = fmt.Fprintf(w, "-- (none)\n")
		return
	}
	for i, m := range pending {
		_, _ = fmt.Fprintf(w, "-- %d. %s\n", i+1, m.Name)
	}
}
