// Package settings persists the user settings document and tells interested
// components when it changes.
package settings

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/jsonstore"
	"github.com/y0ug/depwner/internal/models"
)

// TimestampLayout is the format of Settings.LastUpdated.
const TimestampLayout = "2006-01-02 15:04:05"

var timeOfDayRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ConfigError reports an invalid settings document.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid setting %s: %s", e.Field, e.Reason)
}

// Subscriber is called with the new settings after every successful change.
type Subscriber func(models.Settings)

// Manager holds the current settings.
type Manager struct {
	file   *jsonstore.File[models.Settings]
	logger *logrus.Logger

	// updateMu orders whole updates, subscriber calls included, so triggers
	// apply changes in the order they were saved.
	updateMu sync.Mutex

	mu      sync.RWMutex
	current models.Settings
	subs    []Subscriber
}

// Load reads the settings at path, falling back to defaults when the file
// does not exist yet.
func Load(path string, logger *logrus.Logger) (*Manager, error) {
	file := jsonstore.New[models.Settings](path)
	s, err := file.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	current := withDefaults(s)
	if err := Validate(current); err != nil {
		logger.WithError(err).Warn("Stored settings are invalid, using defaults")
		current = models.DefaultSettings()
	}

	return &Manager{
		file:    file,
		logger:  logger,
		current: current,
	}, nil
}

func withDefaults(s models.Settings) models.Settings {
	def := models.DefaultSettings()
	if s.Schedule.Frequency == "" {
		s.Schedule.Frequency = def.Schedule.Frequency
	}
	if s.Schedule.TimeOfDay == "" {
		s.Schedule.TimeOfDay = def.Schedule.TimeOfDay
	}
	if s.Locations == nil {
		s.Locations = []string{}
	}
	if s.LastUpdated == "" {
		s.LastUpdated = def.LastUpdated
	}
	return s
}

// Validate checks a settings document.
func Validate(s models.Settings) error {
	switch s.Schedule.Frequency {
	case models.FrequencyHourly, models.FrequencyDaily, models.FrequencyWeekly:
	default:
		return &ConfigError{Field: "schedule.frequency", Reason: fmt.Sprintf("unknown frequency %q", s.Schedule.Frequency)}
	}
	if !timeOfDayRe.MatchString(s.Schedule.TimeOfDay) {
		return &ConfigError{Field: "schedule.time_of_day", Reason: fmt.Sprintf("%q is not HH:MM", s.Schedule.TimeOfDay)}
	}
	for _, loc := range s.Locations {
		if !filepath.IsAbs(loc) {
			return &ConfigError{Field: "locations", Reason: fmt.Sprintf("%q is not an absolute path", loc)}
		}
	}
	return nil
}

// Get returns a copy of the current settings.
func (m *Manager) Get() models.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Locations returns the configured watch locations.
func (m *Manager) Locations() []string {
	return m.Get().Locations
}

// PatternEngineEnabled reports whether the pattern tier is switched on.
func (m *Manager) PatternEngineEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.PatternEngineEnabled
}

// Subscribe registers fn for change notifications.
func (m *Manager) Subscribe(fn Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Update replaces the user-editable settings. LastUpdated is owned by the
// definition updater and is kept. On error the previous settings stay in
// effect. Subscribers must not call Update.
func (m *Manager) Update(next models.Settings) (models.Settings, error) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	next = withDefaults(next.Clone())
	next.Locations = cleanLocations(next.Locations)
	if err := Validate(next); err != nil {
		return m.Get(), err
	}

	m.mu.Lock()
	next.LastUpdated = m.current.LastUpdated
	if err := m.file.Save(next); err != nil {
		m.mu.Unlock()
		return m.Get(), fmt.Errorf("failed to save settings: %w", err)
	}
	m.current = next
	subs := append([]Subscriber(nil), m.subs...)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"locations": len(next.Locations),
		"schedule":  next.Schedule.Active,
		"pattern":   next.PatternEngineEnabled,
	}).Info("Settings updated")

	for _, fn := range subs {
		fn(next.Clone())
	}
	return next.Clone(), nil
}

// MarkUpdated records a successful definition update at t.
func (m *Manager) MarkUpdated(t time.Time) (string, error) {
	stamp := t.UTC().Format(TimestampLayout)

	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.current.Clone()
	next.LastUpdated = stamp
	if err := m.file.Save(next); err != nil {
		return "", fmt.Errorf("failed to save settings: %w", err)
	}
	m.current = next
	return stamp, nil
}

// cleanLocations drops empty and duplicate entries and any location nested
// inside another one, which is already watched and scanned through it.
func cleanLocations(locs []string) []string {
	seen := make(map[string]struct{}, len(locs))
	cleaned := make([]string, 0, len(locs))
	for _, l := range locs {
		if l == "" {
			continue
		}
		c := filepath.Clean(l)
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		cleaned = append(cleaned, c)
	}

	out := make([]string, 0, len(cleaned))
	for _, c := range cleaned {
		nested := false
		for _, other := range cleaned {
			if other != c && isWithin(c, other) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, c)
		}
	}
	return out
}

func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
