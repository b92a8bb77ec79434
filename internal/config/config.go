package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultFeedURL is the MalwareBazaar export of recently added samples.
const DefaultFeedURL = "https://bazaar.abuse.ch/export/csv/recent/"

// Config holds the engine configuration. Persisted user settings (locations,
// schedule, pattern engine toggle) live in the settings document instead.
type Config struct {
	DataDir         string
	QuarantineDir   string
	LedgerPath      string
	ScanLogPath     string
	SettingsPath    string
	WhitelistPath   string
	FamilyHashPath  string
	FamilyInfoPath  string
	SignatureDBPath string

	PatternBinary  string
	PatternRules   string
	PatternTimeout time.Duration

	FeedURL       string
	RateLimits    []RateLimitConfig
	WatchDebounce time.Duration

	MaxConcurrentScans int64

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

// RateLimitConfig defines rate limiting settings per consumer ("feed", "watch").
type RateLimitConfig struct {
	Name  string
	Rate  rate.Limit // Events per second
	Burst int
}

// Limit returns the configured limit for name or the given defaults.
func (c *Config) Limit(name string, def rate.Limit, burst int) (rate.Limit, int) {
	for _, rl := range c.RateLimits {
		if rl.Name == name {
			return rl.Rate, rl.Burst
		}
	}
	return def, burst
}

// LoadConfig loads configuration from environment variables and .env file.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found or error loading it. Proceeding with environment variables.")
	}

	dataDir := envOr("DATA_DIR", "data")
	cfg := &Config{
		DataDir:         dataDir,
		QuarantineDir:   envOr("QUARANTINE_DIR", filepath.Join(dataDir, "quarantine")),
		LedgerPath:      envOr("LEDGER_PATH", filepath.Join(dataDir, "quarantine.json")),
		ScanLogPath:     envOr("SCAN_LOG_PATH", filepath.Join(dataDir, "logs.json")),
		SettingsPath:    envOr("SETTINGS_PATH", filepath.Join(dataDir, "settings.json")),
		WhitelistPath:   envOr("WHITELIST_PATH", filepath.Join(dataDir, "whitelist.txt")),
		FamilyHashPath:  envOr("FAMILY_HASH_PATH", filepath.Join(dataDir, "hash.csv")),
		FamilyInfoPath:  envOr("FAMILY_INFO_PATH", filepath.Join(dataDir, "info.json")),
		SignatureDBPath: envOr("DATABASE_PATH", filepath.Join(dataDir, "malware_hashes.db")),
		PatternBinary:   envOr("YARA_BINARY", "yr"),
		PatternRules:    envOr("YARA_RULES_PATH", filepath.Join(dataDir, "output.yarc")),
		FeedURL:         envOr("FEED_URL", DefaultFeedURL),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFile:         os.Getenv("LOG_FILE"),
	}

	timeout, err := strconv.Atoi(os.Getenv("PATTERN_TIMEOUT_SECONDS"))
	if err != nil || timeout <= 0 {
		timeout = 30
		logrus.Infof("Invalid or missing PATTERN_TIMEOUT_SECONDS. Defaulting to %d seconds.", timeout)
	}
	cfg.PatternTimeout = time.Duration(timeout) * time.Second

	debounce, err := strconv.Atoi(os.Getenv("WATCH_DEBOUNCE_MS"))
	if err != nil || debounce <= 0 {
		debounce = 500
		logrus.Infof("Invalid or missing WATCH_DEBOUNCE_MS. Defaulting to %d ms.", debounce)
	}
	cfg.WatchDebounce = time.Duration(debounce) * time.Millisecond

	maxScans, err := strconv.ParseInt(os.Getenv("MAX_CONCURRENT_SCANS"), 10, 64)
	if err != nil || maxScans <= 0 {
		maxScans = 4
		logrus.Infof("Invalid or missing MAX_CONCURRENT_SCANS. Defaulting to %d.", maxScans)
	}
	cfg.MaxConcurrentScans = maxScans

	cfg.LogMaxSizeMB = atoiOr("LOG_MAX_SIZE_MB", 10)
	cfg.LogMaxBackups = atoiOr("LOG_MAX_BACKUPS", 3)

	cfg.RateLimits, err = parseRateLimits(os.Getenv("RATE_LIMITS"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RATE_LIMITS: %v", err)
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func atoiOr(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// parseRateLimits parses rate limits from a comma-separated list of name:rate:burst.
func parseRateLimits(input string) ([]RateLimitConfig, error) {
	var rateLimits []RateLimitConfig
	if input == "" {
		return rateLimits, nil
	}
	for _, entry := range strings.Split(input, ",") {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid rate limit entry: %s", entry)
		}
		name := strings.TrimSpace(parts[0])
		rateValue, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate value in entry '%s': %v", entry, err)
		}
		burstValue, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("invalid burst value in entry '%s': %v", entry, err)
		}
		rateLimits = append(rateLimits, RateLimitConfig{
			Name:  name,
			Rate:  rate.Limit(rateValue),
			Burst: burstValue,
		})
	}
	return rateLimits, nil
}
