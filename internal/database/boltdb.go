package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/models"
	"go.etcd.io/bbolt"
)

var signaturesBucket = []byte("Signatures")

// BoltDB implements SignatureStore on a bbolt file.
type BoltDB struct {
	db     *bbolt.DB
	path   string
	logger *logrus.Logger
}

// NewBoltDB opens the bolt file at path.
func NewBoltDB(path string, logger *logrus.Logger) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, storeError("open", err)
	}

	boltDB := &BoltDB{
		db:     db,
		path:   path,
		logger: logger,
	}

	if err := boltDB.Initialize(context.TODO()); err != nil {
		db.Close()
		return nil, err
	}

	return boltDB, nil
}

// Initialize sets up the signatures bucket.
func (b *BoltDB) Initialize(context.Context) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(signaturesBucket)
		if err != nil {
			return fmt.Errorf("create Signatures bucket: %v", err)
		}
		return nil
	})
	return storeError("initialize", err)
}

func (b *BoltDB) Close(context.Context) error {
	return b.db.Close()
}

// GetSignature retrieves a fingerprint entry.
func (b *BoltDB) GetSignature(_ context.Context, fingerprint string) (models.SignatureEntry, error) {
	var entry models.SignatureEntry
	var found bool

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(signaturesBucket)
		if bucket == nil {
			return fmt.Errorf("Signatures bucket does not exist")
		}
		val := bucket.Get([]byte(fingerprint))
		if val == nil {
			return nil
		}
		found = true
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		b.logger.WithError(err).Errorf("GetSignature: failed to read %s", fingerprint)
		return entry, storeError("lookup", err)
	}
	if !found {
		return entry, ErrSignatureNotFound
	}
	return entry, nil
}

// AddSignatures inserts entries that are not yet present. The whole batch
// runs in one bolt write transaction.
func (b *BoltDB) AddSignatures(_ context.Context, entries []models.SignatureEntry) (int, error) {
	inserted := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(signaturesBucket)
		if bucket == nil {
			return fmt.Errorf("Signatures bucket does not exist")
		}
		for _, e := range entries {
			key := []byte(e.Fingerprint)
			if bucket.Get(key) != nil {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal SignatureEntry: %w", err)
			}
			if err := bucket.Put(key, data); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, storeError("insert", err)
	}
	return inserted, nil
}

// GetTotalSignatures returns the number of keys in the bucket.
func (b *BoltDB) GetTotalSignatures(context.Context) (int, error) {
	total := 0
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(signaturesBucket)
		if bucket == nil {
			return fmt.Errorf("Signatures bucket does not exist")
		}
		total = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, storeError("count", err)
	}
	return total, nil
}
