package database

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig holds the signature store configuration.
type DatabaseConfig struct {
	Type      string
	Path      string
	RedisAddr string
	RedisPass string
	RedisDB   int
}

// LoadDatabaseConfig loads the signature store configuration from environment
// variables. defaultPath is used for file backed stores when DATABASE_PATH is
// unset.
func LoadDatabaseConfig(defaultPath string) (*DatabaseConfig, error) {
	dbType := os.Getenv("DATABASE_TYPE")
	if dbType == "" {
		dbType = "sqlite"
	}

	config := &DatabaseConfig{
		Type: dbType,
	}

	switch dbType {
	case "sqlite", "bolt":
		config.Path = os.Getenv("DATABASE_PATH")
		if config.Path == "" {
			config.Path = defaultPath
		}
		if config.Path == "" {
			return nil, fmt.Errorf("DATABASE_PATH is required for %s", dbType)
		}
	case "redis":
		config.RedisAddr = os.Getenv("REDIS_ADDR")
		if config.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required for RedisDB")
		}
		config.RedisPass = os.Getenv("REDIS_PASSWORD")
		dbStr := os.Getenv("REDIS_DB")
		if dbStr != "" {
			db, err := strconv.Atoi(dbStr)
			if err != nil {
				return nil, fmt.Errorf("invalid REDIS_DB value: %v", err)
			}
			config.RedisDB = db
		}
	default:
		return nil, fmt.Errorf("unsupported DATABASE_TYPE: %s", dbType)
	}

	return config, nil
}
