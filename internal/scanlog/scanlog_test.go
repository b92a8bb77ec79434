package scanlog

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/y0ug/depwner/internal/models"
)

func TestAppendAndEntries(t *testing.T) {
	log := Open(filepath.Join(t.TempDir(), "logs.json"))

	entries, err := log.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, log.Append(models.ScanLogEntry{ScanType: models.ScanTypeManual, FilesScanned: 3, Timestamp: ts, Root: "/a"}))
	require.NoError(t, log.Append(models.ScanLogEntry{ScanType: models.ScanTypeCustom, FilesScanned: 1, Threats: 1, Timestamp: ts, Root: "/b"}))

	entries, err = log.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/a", entries[0].Root)
	assert.Equal(t, 1, entries[1].Threats)
}

func TestConcurrentAppend(t *testing.T) {
	log := Open(filepath.Join(t.TempDir(), "logs.json"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, log.Append(models.ScanLogEntry{ScanType: models.ScanTypeCustom, FilesScanned: 1}))
		}()
	}
	wg.Wait()

	entries, err := log.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}
