// Package quarantine moves detected files into an isolation directory and
// keeps the ledger needed to restore or purge them.
package quarantine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/jsonstore"
	"github.com/y0ug/depwner/internal/models"
)

// Manager owns the quarantine directory and its ledger.
type Manager struct {
	dir    string
	ledger *jsonstore.File[[]models.QuarantineRecord]
	logger *logrus.Logger
	now    func() time.Time
}

// NewManager creates dir if needed and opens the ledger at ledgerPath.
func NewManager(dir, ledgerPath string, logger *logrus.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create quarantine directory: %w", err)
	}
	return &Manager{
		dir:    dir,
		ledger: jsonstore.New[[]models.QuarantineRecord](ledgerPath),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Dir returns the quarantine directory.
func (m *Manager) Dir() string {
	return m.dir
}

// storedName derives a collision-free name from the original path and time.
func storedName(path string, t time.Time) string {
	sum := xxhash.Sum64String(path + "|" + strconv.FormatInt(t.UnixNano(), 10))
	return fmt.Sprintf("%s.%016x", filepath.Base(path), sum)
}

func detectType(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	buf := make([]byte, 261)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return ""
	}
	kind, err := filetype.Match(buf[:n])
	if err != nil || kind == filetype.Unknown || kind.MIME.Value == "" {
		return "unknown"
	}
	return kind.MIME.Value
}

// Quarantine moves path into the quarantine directory and records it.
func (m *Manager) Quarantine(path string, detection models.Detection) (models.QuarantineRecord, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return models.QuarantineRecord{}, &QuarantineError{Op: "move", Path: path, Err: err}
	}

	now := m.now().UTC()
	record := models.QuarantineRecord{
		Name:          storedName(path, now),
		OriginalPath:  path,
		Fingerprint:   detection.Fingerprint,
		DetectionType: detection.Kind,
		Detail:        detection.Detail,
		Timestamp:     now,
		Size:          info.Size(),
		FileType:      detectType(path),
	}
	stored := filepath.Join(m.dir, record.Name)

	if err := moveFile(path, stored); err != nil {
		return models.QuarantineRecord{}, &QuarantineError{Op: "move", Path: path, Err: err}
	}

	err = m.ledger.Update(func(records *[]models.QuarantineRecord) error {
		*records = append(*records, record)
		return nil
	})
	if err != nil {
		if rbErr := moveFile(stored, path); rbErr != nil {
			m.logger.WithError(rbErr).WithField("path", path).Error("Failed to move file back after ledger error")
		}
		return models.QuarantineRecord{}, &QuarantineError{Op: "record", Path: path, Err: err}
	}

	m.logger.WithFields(logrus.Fields{
		"path":   path,
		"name":   record.Name,
		"kind":   record.DetectionType,
		"detail": record.Detail,
	}).Info("File quarantined")
	return record, nil
}

// Restore moves a quarantined file back to its original path and drops its
// ledger entry. An existing file at the original path is never replaced.
func (m *Manager) Restore(record models.QuarantineRecord) error {
	stored := filepath.Join(m.dir, record.Name)
	logger := m.logger.WithFields(logrus.Fields{
		"name": record.Name,
		"path": record.OriginalPath,
	})

	if _, err := os.Lstat(stored); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if rmErr := m.remove(record.Name); rmErr != nil {
				return &QuarantineError{Op: "restore", Path: record.OriginalPath, Err: rmErr}
			}
			logger.Warn("Quarantined copy missing, dropped ledger entry")
			return &QuarantineError{Op: "restore", Path: record.OriginalPath, Err: ErrInconsistent}
		}
		return &QuarantineError{Op: "restore", Path: record.OriginalPath, Err: err}
	}

	if _, err := os.Lstat(record.OriginalPath); err == nil {
		return &QuarantineError{Op: "restore", Path: record.OriginalPath, Err: ErrRestoreTargetExists}
	}

	if err := os.MkdirAll(filepath.Dir(record.OriginalPath), 0o755); err != nil {
		return &QuarantineError{Op: "restore", Path: record.OriginalPath, Err: err}
	}
	if err := moveFileNoReplace(stored, record.OriginalPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			err = ErrRestoreTargetExists
		}
		return &QuarantineError{Op: "restore", Path: record.OriginalPath, Err: err}
	}
	if err := m.remove(record.Name); err != nil {
		return &QuarantineError{Op: "restore", Path: record.OriginalPath, Err: err}
	}

	logger.Info("File restored")
	return nil
}

// Purge deletes the quarantined copy, if any, and drops the ledger entry.
func (m *Manager) Purge(record models.QuarantineRecord) error {
	stored := filepath.Join(m.dir, record.Name)
	if err := os.Remove(stored); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &QuarantineError{Op: "purge", Path: stored, Err: err}
	}
	if err := m.remove(record.Name); err != nil {
		return &QuarantineError{Op: "purge", Path: stored, Err: err}
	}
	m.logger.WithField("name", record.Name).Info("Quarantined file purged")
	return nil
}

func (m *Manager) remove(name string) error {
	return m.ledger.Update(func(records *[]models.QuarantineRecord) error {
		kept := (*records)[:0]
		for _, r := range *records {
			if r.Name != name {
				kept = append(kept, r)
			}
		}
		*records = kept
		return nil
	})
}

// List returns the ledger.
func (m *Manager) List() ([]models.QuarantineRecord, error) {
	records, err := m.ledger.Load()
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.QuarantineRecord{}
	}
	return records, nil
}

// FindByOriginalPath returns the most recent record for path.
func (m *Manager) FindByOriginalPath(path string) (models.QuarantineRecord, error) {
	records, err := m.List()
	if err != nil {
		return models.QuarantineRecord{}, err
	}
	path = filepath.Clean(path)
	var found *models.QuarantineRecord
	for i := range records {
		r := &records[i]
		if filepath.Clean(r.OriginalPath) != path {
			continue
		}
		if found == nil || !r.Timestamp.Before(found.Timestamp) {
			found = r
		}
	}
	if found == nil {
		return models.QuarantineRecord{}, ErrRecordNotFound
	}
	return *found, nil
}

// FindByName returns the record stored under name.
func (m *Manager) FindByName(name string) (models.QuarantineRecord, error) {
	records, err := m.List()
	if err != nil {
		return models.QuarantineRecord{}, err
	}
	for _, r := range records {
		if r.Name == name {
			return r, nil
		}
	}
	return models.QuarantineRecord{}, ErrRecordNotFound
}

// ReconcileReport lists the differences between the directory and the ledger.
type ReconcileReport struct {
	Orphans  []string                  `json:"orphans"`
	Dangling []models.QuarantineRecord `json:"dangling"`
}

// Reconcile compares the quarantine directory with the ledger. Nothing is
// changed; differences are logged and returned.
func (m *Manager) Reconcile() (ReconcileReport, error) {
	var report ReconcileReport

	records, err := m.List()
	if err != nil {
		return report, err
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return report, fmt.Errorf("failed to list quarantine directory: %w", err)
	}

	onDisk := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		onDisk[e.Name()] = struct{}{}
	}

	known := make(map[string]struct{}, len(records))
	for _, r := range records {
		known[r.Name] = struct{}{}
		if _, ok := onDisk[r.Name]; !ok {
			report.Dangling = append(report.Dangling, r)
			m.logger.WithFields(logrus.Fields{
				"name": r.Name,
				"path": r.OriginalPath,
			}).Warn("Ledger entry has no quarantined file")
		}
	}
	for name := range onDisk {
		if _, ok := known[name]; !ok {
			report.Orphans = append(report.Orphans, name)
			m.logger.WithField("name", name).Warn("Quarantined file has no ledger entry")
		}
	}
	sort.Strings(report.Orphans)
	return report, nil
}
