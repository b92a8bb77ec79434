package quarantine

import (
	"errors"
	"fmt"
)

var (
	// ErrInconsistent means the ledger named a file that is no longer in the
	// quarantine directory. The ledger entry has been dropped.
	ErrInconsistent = errors.New("quarantined copy is missing")
	// ErrRestoreTargetExists means a file already sits at the original path.
	ErrRestoreTargetExists = errors.New("a file already exists at the original path")
	// ErrRecordNotFound is returned by lookups that match no ledger entry.
	ErrRecordNotFound = errors.New("quarantine record not found")
)

// QuarantineError reports a failed quarantine operation.
type QuarantineError struct {
	Op   string
	Path string
	Err  error
}

func (e *QuarantineError) Error() string {
	return fmt.Sprintf("quarantine %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *QuarantineError) Unwrap() error {
	return e.Err
}
