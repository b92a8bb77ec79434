package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/models"
)

const signatureKeyPrefix = "signature:"

// RedisDB implements SignatureStore on Redis, one string key per fingerprint.
type RedisDB struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisDB connects to Redis and checks the connection.
func NewRedisDB(ctx context.Context, cfg *DatabaseConfig, logger *logrus.Logger) (*RedisDB, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, storeError("open", err)
	}

	return &RedisDB{
		client: rdb,
		logger: logger,
	}, nil
}

// Initialize is a no-op; Redis is schema-less.
func (r *RedisDB) Initialize(context.Context) error {
	return nil
}

func (r *RedisDB) Close(context.Context) error {
	return r.client.Close()
}

func signatureKey(fingerprint string) string {
	return signatureKeyPrefix + fingerprint
}

// GetSignature retrieves a fingerprint entry.
func (r *RedisDB) GetSignature(ctx context.Context, fingerprint string) (models.SignatureEntry, error) {
	var entry models.SignatureEntry

	val, err := r.client.Get(ctx, signatureKey(fingerprint)).Result()
	if err != nil {
		if err == redis.Nil {
			return entry, ErrSignatureNotFound
		}
		r.logger.WithError(err).Errorf("GetSignature: failed to read %s", fingerprint)
		return entry, storeError("lookup", err)
	}

	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return entry, storeError("lookup", err)
	}
	return entry, nil
}

// AddSignatures issues one SETNX per entry inside a MULTI/EXEC block.
func (r *RedisDB) AddSignatures(ctx context.Context, entries []models.SignatureEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	payloads := make([][]byte, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return 0, storeError("insert", fmt.Errorf("failed to marshal SignatureEntry: %w", err))
		}
		payloads[i] = data
	}

	var results []*redis.BoolCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, e := range entries {
			results = append(results, pipe.SetNX(ctx, signatureKey(e.Fingerprint), payloads[i], 0))
		}
		return nil
	})
	if err != nil {
		return 0, storeError("insert", err)
	}

	inserted := 0
	for _, cmd := range results {
		if cmd.Val() {
			inserted++
		}
	}
	return inserted, nil
}

// GetTotalSignatures counts signature keys with SCAN.
func (r *RedisDB) GetTotalSignatures(ctx context.Context) (int, error) {
	total := 0
	iter := r.client.Scan(ctx, 0, signatureKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		total++
	}
	if err := iter.Err(); err != nil {
		return 0, storeError("count", err)
	}
	return total, nil
}
