// Package scanlog keeps the persisted list of finished scans.
package scanlog

import (
	"github.com/y0ug/depwner/internal/jsonstore"
	"github.com/y0ug/depwner/internal/models"
)

// Log is an append-only list of scan log entries stored as JSON.
type Log struct {
	file *jsonstore.File[[]models.ScanLogEntry]
}

// Open returns the log stored at path.
func Open(path string) *Log {
	return &Log{file: jsonstore.New[[]models.ScanLogEntry](path)}
}

// Append adds entry at the end of the log.
func (l *Log) Append(entry models.ScanLogEntry) error {
	return l.file.Update(func(entries *[]models.ScanLogEntry) error {
		*entries = append(*entries, entry)
		return nil
	})
}

// Entries returns every entry, oldest first.
func (l *Log) Entries() ([]models.ScanLogEntry, error) {
	entries, err := l.file.Load()
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.ScanLogEntry{}
	}
	return entries, nil
}
