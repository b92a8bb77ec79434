package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/models"
)

// SQLiteDB is the default SignatureStore.
type SQLiteDB struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLiteDB opens (or creates) the database at dataSourceName.
func NewSQLiteDB(dataSourceName string, logger *logrus.Logger) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, storeError("open", fmt.Errorf("failed to open sqlite3 database: %w", err))
	}

	// SQLite3 doesn't support multiple writers well.
	db.SetMaxOpenConns(1)

	sqliteDB := &SQLiteDB{
		db:     db,
		logger: logger,
	}

	if err := sqliteDB.Initialize(context.TODO()); err != nil {
		db.Close()
		return nil, err
	}

	return sqliteDB, nil
}

func (s *SQLiteDB) Close(context.Context) error {
	return s.db.Close()
}

// Initialize creates the signature table.
func (s *SQLiteDB) Initialize(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS malware_hashes (
        md5_hash TEXT PRIMARY KEY,
        first_seen_utc TEXT,
        signature TEXT
    );
    `
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return storeError("initialize", fmt.Errorf("failed to execute schema: %w", err))
	}
	return nil
}

// GetSignature looks up a fingerprint. Rows imported verbatim from older CSV
// dumps may carry surrounding quotes, so the quoted form is matched as well.
func (s *SQLiteDB) GetSignature(ctx context.Context, fingerprint string) (models.SignatureEntry, error) {
	var entry models.SignatureEntry
	var firstSeen, signature sql.NullString

	query := `
		SELECT md5_hash, first_seen_utc, signature
		FROM malware_hashes
		WHERE md5_hash = ? OR md5_hash = ?
		LIMIT 1;
	`
	err := s.db.QueryRowContext(ctx, query, fingerprint, `"`+fingerprint+`"`).Scan(
		&entry.Fingerprint,
		&firstSeen,
		&signature,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entry, ErrSignatureNotFound
		}
		s.logger.WithError(err).Errorf("GetSignature: failed to query %s", fingerprint)
		return entry, storeError("lookup", err)
	}

	entry.Fingerprint = NormalizeFingerprint(entry.Fingerprint)
	entry.FirstSeen = unquote(firstSeen.String)
	entry.Signature = unquote(signature.String)
	return entry, nil
}

// AddSignatures inserts entries in one transaction with INSERT OR IGNORE.
func (s *SQLiteDB) AddSignatures(ctx context.Context, entries []models.SignatureEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeError("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT OR IGNORE INTO malware_hashes (md5_hash, first_seen_utc, signature)
        VALUES (?, ?, ?);
    `)
	if err != nil {
		return 0, storeError("prepare", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx, e.Fingerprint, e.FirstSeen, e.Signature)
		if err != nil {
			s.logger.WithError(err).WithField("md5", e.Fingerprint).Error("AddSignatures: insert failed")
			return 0, storeError("insert", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, storeError("insert", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeError("commit", err)
	}
	return inserted, nil
}

// GetTotalSignatures returns the row count.
func (s *SQLiteDB) GetTotalSignatures(ctx context.Context) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM malware_hashes;`).Scan(&total)
	if err != nil {
		s.logger.WithError(err).Error("GetTotalSignatures: failed to execute query")
		return 0, storeError("count", err)
	}
	return total, nil
}
