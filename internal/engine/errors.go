package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned by a session stopped before it finished.
	ErrCancelled = errors.New("scan cancelled")
	// ErrRootBusy is returned when a drop-policy scan finds its root locked.
	ErrRootBusy = errors.New("another scan holds this root")
	// ErrSessionUsed is returned when a session is started twice.
	ErrSessionUsed = errors.New("scan session already used")
)

// HashError reports a file that could not be read for fingerprinting.
type HashError struct {
	Path string
	Err  error
}

func (e *HashError) Error() string {
	return fmt.Sprintf("failed to fingerprint %s: %v", e.Path, e.Err)
}

func (e *HashError) Unwrap() error {
	return e.Err
}

// PatternEngineError reports a failed or timed out pattern engine run.
type PatternEngineError struct {
	Path string
	Err  error
}

func (e *PatternEngineError) Error() string {
	return fmt.Sprintf("pattern engine failed on %s: %v", e.Path, e.Err)
}

func (e *PatternEngineError) Unwrap() error {
	return e.Err
}
