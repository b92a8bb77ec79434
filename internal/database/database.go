package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/models"
)

// SignatureStore is the persisted table of known-malicious fingerprints.
// Implementations must be safe for concurrent readers while an import runs.
type SignatureStore interface {
	// Initialize sets up the necessary tables or buckets.
	Initialize(ctx context.Context) error

	Close(ctx context.Context) error

	// GetSignature returns the entry for fingerprint or ErrSignatureNotFound.
	GetSignature(ctx context.Context, fingerprint string) (models.SignatureEntry, error)

	// AddSignatures inserts entries inside a single transaction. Existing
	// fingerprints are left untouched. It returns the number of new rows.
	// On error nothing is written.
	AddSignatures(ctx context.Context, entries []models.SignatureEntry) (int, error)

	// GetTotalSignatures returns the number of stored fingerprints.
	GetTotalSignatures(ctx context.Context) (int, error)
}

var ErrSignatureNotFound = errors.New("signature not found")

// StoreError reports a failure to open or query the signature store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("signature store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg *DatabaseConfig, logger *logrus.Logger) (SignatureStore, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteDB(cfg.Path, logger)
	case "bolt":
		return NewBoltDB(cfg.Path, logger)
	case "redis":
		return NewRedisDB(ctx, cfg, logger)
	default:
		return nil, storeError("open", fmt.Errorf("unsupported database type: %s", cfg.Type))
	}
}

// NormalizeFingerprint lowercases a fingerprint and strips surrounding quotes.
func NormalizeFingerprint(fp string) string {
	return strings.ToLower(unquote(fp))
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	return strings.Trim(s, `"'`)
}
