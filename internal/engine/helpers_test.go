package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/y0ug/depwner/internal/database"
	"github.com/y0ug/depwner/internal/models"
)

const (
	emptyMD5      = "d41d8cd98f00b204e9800998ecf8427e"
	helloWorldMD5 = "5eb63bbbe01eeed093cb22bb8f5acdc3"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type memStore struct {
	mu      sync.Mutex
	entries map[string]models.SignatureEntry
	err     error
}

func newMemStore(entries ...models.SignatureEntry) *memStore {
	s := &memStore{entries: make(map[string]models.SignatureEntry)}
	for _, e := range entries {
		s.entries[e.Fingerprint] = e
	}
	return s
}

func (m *memStore) Initialize(context.Context) error { return nil }
func (m *memStore) Close(context.Context) error      { return nil }

func (m *memStore) GetSignature(_ context.Context, fp string) (models.SignatureEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.SignatureEntry{}, m.err
	}
	e, ok := m.entries[fp]
	if !ok {
		return e, database.ErrSignatureNotFound
	}
	return e, nil
}

func (m *memStore) AddSignatures(_ context.Context, entries []models.SignatureEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range entries {
		if _, ok := m.entries[e.Fingerprint]; !ok {
			m.entries[e.Fingerprint] = e
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetTotalSignatures(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

// moveQuarantine moves files into dir and remembers what it did.
type moveQuarantine struct {
	dir  string
	fail bool

	mu      sync.Mutex
	records []models.QuarantineRecord
}

func (q *moveQuarantine) Quarantine(path string, d models.Detection) (models.QuarantineRecord, error) {
	if q.fail {
		return models.QuarantineRecord{}, errors.New("quarantine unavailable")
	}
	name := filepath.Base(path) + "." + d.Fingerprint
	if err := os.Rename(path, filepath.Join(q.dir, name)); err != nil {
		return models.QuarantineRecord{}, err
	}
	rec := models.QuarantineRecord{
		Name:          name,
		OriginalPath:  path,
		Fingerprint:   d.Fingerprint,
		DetectionType: d.Kind,
		Detail:        d.Detail,
	}
	q.mu.Lock()
	q.records = append(q.records, rec)
	q.mu.Unlock()
	return rec, nil
}

func (q *moveQuarantine) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

type stubMatcher struct {
	rules []string
	err   error
	calls int
}

func (s *stubMatcher) Configured() bool { return true }

func (s *stubMatcher) Match(context.Context, string) ([]string, error) {
	s.calls++
	return s.rules, s.err
}

type memLog struct {
	mu      sync.Mutex
	entries []models.ScanLogEntry
}

func (l *memLog) Append(e models.ScanLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *memLog) all() []models.ScanLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.ScanLogEntry(nil), l.entries...)
}

type fixture struct {
	dir        string
	whitelist  *Whitelist
	store      *memStore
	quarantine *moveQuarantine
	pipeline   *Pipeline
}

func newFixture(t *testing.T, store *memStore, patterns PatternMatcher, patternsOn bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	qdir := filepath.Join(dir, "quarantine")
	require.NoError(t, os.MkdirAll(qdir, 0o700))

	logger := testLogger()
	wl, err := LoadWhitelist(filepath.Join(dir, "whitelist.txt"), logger)
	require.NoError(t, err)
	if store == nil {
		store = newMemStore()
	}
	q := &moveQuarantine{dir: qdir}

	p := NewPipeline(PipelineConfig{
		Whitelist:      wl,
		Store:          store,
		Patterns:       patterns,
		Quarantine:     q,
		PatternEnabled: func() bool { return patternsOn },
	}, logger)

	return &fixture{dir: dir, whitelist: wl, store: store, quarantine: q, pipeline: p}
}
