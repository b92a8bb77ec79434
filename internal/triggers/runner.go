// Package triggers starts scans when watched files change and on the
// configured schedule.
package triggers

import (
	"context"

	"github.com/y0ug/depwner/internal/engine"
	"github.com/y0ug/depwner/internal/models"
)

// Runner starts scan sessions.
type Runner interface {
	ScanFile(ctx context.Context, path string, scanType models.ScanType) error
	ScanFolder(ctx context.Context, root string, scanType models.ScanType, policy engine.LockPolicy) error
}

// ScannerRunner runs each request in a fresh engine session.
type ScannerRunner struct {
	Scanner *engine.Scanner
}

func (r ScannerRunner) ScanFile(ctx context.Context, path string, scanType models.ScanType) error {
	_, err := r.Scanner.NewSession(scanType).ScanFile(ctx, path)
	return err
}

func (r ScannerRunner) ScanFolder(ctx context.Context, root string, scanType models.ScanType, policy engine.LockPolicy) error {
	_, err := r.Scanner.NewSession(scanType, engine.WithLockPolicy(policy)).ScanFolder(ctx, root)
	return err
}
