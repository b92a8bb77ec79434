package models

// NeverUpdated is the LastUpdated value before the first successful update.
const NeverUpdated = "Never"

// Frequency values accepted by Schedule.
const (
	FrequencyHourly = "hourly"
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

// WeekdayMask flags the days a weekly schedule fires on.
type WeekdayMask struct {
	Mon bool `json:"mon"`
	Tue bool `json:"tue"`
	Wed bool `json:"wed"`
	Thu bool `json:"thu"`
	Fri bool `json:"fri"`
	Sat bool `json:"sat"`
	Sun bool `json:"sun"`
}

// Days returns the flagged days as cron day-of-week numbers (0 = Sunday).
func (m WeekdayMask) Days() []int {
	flags := []bool{m.Sun, m.Mon, m.Tue, m.Wed, m.Thu, m.Fri, m.Sat}
	var days []int
	for i, on := range flags {
		if on {
			days = append(days, i)
		}
	}
	return days
}

// Schedule is the recurrence part of Settings.
type Schedule struct {
	Active      bool        `json:"active"`
	Frequency   string      `json:"frequency"`
	WeekdayMask WeekdayMask `json:"weekday_mask"`
	TimeOfDay   string      `json:"time_of_day"`
}

// Settings is the persisted user configuration.
type Settings struct {
	PatternEngineEnabled bool     `json:"pattern_engine_enabled"`
	Schedule             Schedule `json:"schedule"`
	Locations            []string `json:"locations"`
	LastUpdated          string   `json:"last_updated"`
}

// DefaultSettings is used when no settings file exists yet.
func DefaultSettings() Settings {
	return Settings{
		PatternEngineEnabled: false,
		Schedule: Schedule{
			Active:    false,
			Frequency: FrequencyDaily,
			TimeOfDay: "00:00",
		},
		Locations:   []string{},
		LastUpdated: NeverUpdated,
	}
}

// Clone returns a copy that shares no slices with s.
func (s Settings) Clone() Settings {
	c := s
	c.Locations = make([]string, len(s.Locations))
	copy(c.Locations, s.Locations)
	return c
}
