package migrator

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyName is returned when a migration has no name.
	ErrEmptyName = errors.New("migrator: migration name is empty")

	// ErrDuplicateName is returned when two migrations share a name.
	// Names are ledger keys, so a duplicate would be silently skipped.
	ErrDuplicateName = errors.New("migrator: duplicate migration name")

	// ErrNoApply is returned when a migration has a nil Apply function.
	ErrNoApply = errors.New("migrator: migration has no apply function")
)

// MigrationError reports one migration that failed to apply. The migration
// is not recorded and will be attempted again on the next run.
type MigrationError struct {
	Name string
	Err  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %q failed: %v", e.Name, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// IsMigrationErr returns true if err is or wraps a MigrationError.
func IsMigrationErr(err error) bool {
	var me *MigrationError
	return errors.As(err, &me)
}
