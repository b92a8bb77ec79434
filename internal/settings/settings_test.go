package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/y0ug/depwner/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func TestLoadDefaults(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "settings.json"), testLogger())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), m.Get())
}

func TestUpdatePersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m, err := Load(path, testLogger())
	require.NoError(t, err)

	var got []models.Settings
	m.Subscribe(func(s models.Settings) { got = append(got, s) })

	next := m.Get()
	next.PatternEngineEnabled = true
	next.Locations = []string{"/home/u/Downloads", "/home/u/Downloads/", "/tmp"}
	next.Schedule = models.Schedule{
		Active:      true,
		Frequency:   models.FrequencyWeekly,
		WeekdayMask: models.WeekdayMask{Mon: true, Fri: true},
		TimeOfDay:   "09:30",
	}
	next.LastUpdated = "ignored"

	saved, err := m.Update(next)
	require.NoError(t, err)
	assert.Equal(t, []string{"/home/u/Downloads", "/tmp"}, saved.Locations)
	assert.Equal(t, models.NeverUpdated, saved.LastUpdated)
	require.Len(t, got, 1)
	assert.Equal(t, saved, got[0])
	assert.True(t, m.PatternEngineEnabled())

	reloaded, err := Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, saved, reloaded.Get())
}

func TestUpdateRejectsInvalid(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "settings.json"), testLogger())
	require.NoError(t, err)
	notified := false
	m.Subscribe(func(models.Settings) { notified = true })

	cases := []func(*models.Settings){
		func(s *models.Settings) { s.Schedule.Frequency = "monthly" },
		func(s *models.Settings) { s.Schedule.TimeOfDay = "25:00" },
		func(s *models.Settings) { s.Schedule.TimeOfDay = "9:30" },
		func(s *models.Settings) { s.Locations = []string{"relative/dir"} },
	}
	for _, mutate := range cases {
		next := m.Get()
		mutate(&next)
		_, err := m.Update(next)
		var cfgErr *ConfigError
		assert.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
	}
	assert.False(t, notified)
	assert.Equal(t, models.DefaultSettings(), m.Get())
}

func TestMarkUpdated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m, err := Load(path, testLogger())
	require.NoError(t, err)

	stamp, err := m.MarkUpdated(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06 07:08:09", stamp)
	assert.Equal(t, stamp, m.Get().LastUpdated)

	reloaded, err := Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, stamp, reloaded.Get().LastUpdated)
}

func TestLoadInvalidFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schedule":{"frequency":"yearly"}}`), 0o600))

	m, err := Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyDaily, m.Get().Schedule.Frequency)
}

func TestUpdateCollapsesNestedLocations(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "settings.json"), testLogger())
	require.NoError(t, err)

	next := m.Get()
	next.Locations = []string{"/w/a/b", "/w/a", "/w/ab", "/srv"}
	saved, err := m.Update(next)
	require.NoError(t, err)
	assert.Equal(t, []string{"/w/a", "/w/ab", "/srv"}, saved.Locations)
}

func TestConcurrentUpdatesNotifyInSaveOrder(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "settings.json"), testLogger())
	require.NoError(t, err)

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var mu sync.Mutex
	var applied []string
	m.Subscribe(func(s models.Settings) {
		if s.Locations[0] == "/a" {
			close(firstStarted)
			<-releaseFirst
		}
		mu.Lock()
		applied = append(applied, s.Locations[0])
		mu.Unlock()
	})

	update := func(loc string) {
		next := m.Get()
		next.Locations = []string{loc}
		_, err := m.Update(next)
		assert.NoError(t, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		update("/a")
	}()
	<-firstStarted
	go func() {
		defer wg.Done()
		update("/b")
	}()
	// Give the second update a chance to overtake the first if it could.
	time.Sleep(50 * time.Millisecond)
	close(releaseFirst)
	wg.Wait()

	assert.Equal(t, []string{"/a", "/b"}, applied)
	assert.Equal(t, []string{"/b"}, m.Get().Locations)
}

func TestEmptyLocationsSerializeAsList(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "settings.json"), testLogger())
	require.NoError(t, err)
	_, err = m.MarkUpdated(fixedStamp)
	require.NoError(t, err)

	data, err := json.Marshal(m.Get())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"locations":[]`)

	saved, err := m.Update(m.Get())
	require.NoError(t, err)
	data, err = json.Marshal(saved)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"locations":[]`)
}

var fixedStamp = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
