package auth

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketNonces = []byte("nonces")

// BoltNonceStore persists nonce usage in a BoltDB file so replay protection
// survives gateway restarts.
type BoltNonceStore struct {
	db *bolt.DB
}

type storedNonce struct {
	APIKey     string    `json:"apiKey"`
	Timestamp  string    `json:"timestamp"`
	Nonce      string    `json:"nonce"`
	ObservedAt time.Time `json:"observedAt"`
}

// NewBoltNonceStore opens (and migrates) the BoltDB-backed nonce store.
func NewBoltNonceStore(path string) (*BoltNonceStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNonces)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltNonceStore{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *BoltNonceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nonceKey(record NonceRecord) []byte {
	return []byte(record.APIKey + "|" + record.Timestamp + "|" + record.Nonce)
}

// EnsureNonce records the nonce, reporting whether it was already present.
func (s *BoltNonceStore) EnsureNonce(_ context.Context, record NonceRecord) (bool, error) {
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketNonces)
		key := nonceKey(record)
		if bucket.Get(key) != nil {
			existed = true
			return nil
		}
		payload, err := json.Marshal(storedNonce{
			APIKey:     record.APIKey,
			Timestamp:  record.Timestamp,
			Nonce:      record.Nonce,
			ObservedAt: record.ObservedAt,
		})
		if err != nil {
			return err
		}
		return bucket.Put(key, payload)
	})
	return existed, err
}

// PruneNonces removes records observed before the cutoff.
func (s *BoltNonceStore) PruneNonces(_ context.Context, cutoff time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketNonces)
		cursor := bucket.Cursor()
		var stale [][]byte
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			var rec storedNonce
			if err := json.Unmarshal(value, &rec); err != nil {
				stale = append(stale, append([]byte(nil), key...))
				continue
			}
			if rec.ObservedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), key...))
			}
		}
		for _, key := range stale {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
