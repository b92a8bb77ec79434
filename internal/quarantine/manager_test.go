package quarantine

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/y0ug/depwner/internal/models"
)

var detection = models.Detection{
	Kind:        models.KindMaliciousSignature,
	Fingerprint: "d41d8cd98f00b204e9800998ecf8427e",
	Detail:      "Trojan.Test",
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "quarantine"), filepath.Join(dir, "quarantine.json"), logger)
	require.NoError(t, err)
	return m, dir
}

func writeSample(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestQuarantineRestoreRoundTrip(t *testing.T) {
	m, dir := newTestManager(t)
	path := filepath.Join(dir, "home", "sample.exe")
	writeSample(t, path, []byte("MZ payload"))

	record, err := m.Quarantine(path, detection)
	require.NoError(t, err)
	assert.NoFileExists(t, path)
	assert.FileExists(t, filepath.Join(m.Dir(), record.Name))
	assert.Equal(t, path, record.OriginalPath)
	assert.Equal(t, int64(10), record.Size)
	assert.Equal(t, models.KindMaliciousSignature, record.DetectionType)
	assert.Equal(t, "Trojan.Test", record.Detail)

	records, err := m.List()
	require.NoError(t, err)
	require.Len(t, records, 1)

	found, err := m.FindByOriginalPath(path)
	require.NoError(t, err)
	assert.Equal(t, record.Name, found.Name)

	// The parent directory is recreated on restore.
	require.NoError(t, os.RemoveAll(filepath.Dir(path)))
	require.NoError(t, m.Restore(found))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "MZ payload", string(data))

	records, err = m.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestQuarantineFileType(t *testing.T) {
	m, dir := newTestManager(t)
	path := filepath.Join(dir, "image.png")
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D}
	writeSample(t, path, png)

	record, err := m.Quarantine(path, detection)
	require.NoError(t, err)
	assert.Equal(t, "image/png", record.FileType)
}

func TestQuarantineSameNameTwice(t *testing.T) {
	m, dir := newTestManager(t)
	path := filepath.Join(dir, "dup.bin")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	writeSample(t, path, []byte("one"))
	first, err := m.Quarantine(path, detection)
	require.NoError(t, err)
	writeSample(t, path, []byte("two"))
	second, err := m.Quarantine(path, detection)
	require.NoError(t, err)
	assert.NotEqual(t, first.Name, second.Name)

	latest, err := m.FindByOriginalPath(path)
	require.NoError(t, err)
	assert.Equal(t, second.Name, latest.Name)
}

func TestQuarantineMissingSource(t *testing.T) {
	m, dir := newTestManager(t)
	_, err := m.Quarantine(filepath.Join(dir, "missing"), detection)
	var qErr *QuarantineError
	require.True(t, errors.As(err, &qErr))
	assert.Equal(t, "move", qErr.Op)
}

func TestRestoreRefusesToOverwrite(t *testing.T) {
	m, dir := newTestManager(t)
	path := filepath.Join(dir, "sample")
	writeSample(t, path, []byte("bad"))

	record, err := m.Quarantine(path, detection)
	require.NoError(t, err)
	writeSample(t, path, []byte("new file"))

	err = m.Restore(record)
	assert.ErrorIs(t, err, ErrRestoreTargetExists)

	records, err := m.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "new file", string(data))
}

func TestRestoreMissingCopyDropsRecord(t *testing.T) {
	m, dir := newTestManager(t)
	path := filepath.Join(dir, "sample")
	writeSample(t, path, []byte("bad"))

	record, err := m.Quarantine(path, detection)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(m.Dir(), record.Name)))

	err = m.Restore(record)
	assert.ErrorIs(t, err, ErrInconsistent)

	records, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPurge(t *testing.T) {
	m, dir := newTestManager(t)
	path := filepath.Join(dir, "sample")
	writeSample(t, path, []byte("bad"))

	record, err := m.Quarantine(path, detection)
	require.NoError(t, err)
	require.NoError(t, m.Purge(record))
	assert.NoFileExists(t, filepath.Join(m.Dir(), record.Name))

	// Purging again is harmless.
	require.NoError(t, m.Purge(record))

	_, err = m.FindByName(record.Name)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestReconcile(t *testing.T) {
	m, dir := newTestManager(t)
	keep := filepath.Join(dir, "keep")
	lost := filepath.Join(dir, "lost")
	writeSample(t, keep, []byte("k"))
	writeSample(t, lost, []byte("l"))

	_, err := m.Quarantine(keep, detection)
	require.NoError(t, err)
	lostRec, err := m.Quarantine(lost, detection)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(m.Dir(), lostRec.Name)))
	writeSample(t, filepath.Join(m.Dir(), "stray.bin"), []byte("s"))

	report, err := m.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, []string{"stray.bin"}, report.Orphans)
	require.Len(t, report.Dangling, 1)
	assert.Equal(t, lostRec.Name, report.Dangling[0].Name)
}

func TestMoveFileCopyFallback(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeSample(t, src, []byte("data"))
	dst := filepath.Join(dir, "dst")

	require.NoError(t, copyFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	// An existing destination is never overwritten by the copy path.
	assert.Error(t, copyFile(src, dst))
}

func TestMoveFileNoReplaceKeepsExistingTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "stored")
	dst := filepath.Join(dir, "original.exe")
	writeSample(t, src, []byte("quarantined"))
	writeSample(t, dst, []byte("user file"))

	err := moveFileNoReplace(src, dst)
	assert.True(t, errors.Is(err, os.ErrExist), "got %v", err)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "user file", string(data))
	assert.FileExists(t, src)
}

func TestMoveFileNoReplace(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "stored")
	dst := filepath.Join(dir, "original.exe")
	writeSample(t, src, []byte("quarantined"))

	require.NoError(t, moveFileNoReplace(src, dst))
	assert.NoFileExists(t, src)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "quarantined", string(data))
}
