package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketLayouts = []byte("layouts")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLayouts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveLayout(rec *LayoutRecord) error {
	if rec.DeviceID == "" {
		return fmt.Errorf("layout record without device id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLayouts)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketLayouts)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.DeviceID), data)
	})
}

func (s *BoltStore) GetLayout(deviceID string) (*LayoutRecord, error) {
	var rec LayoutRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLayouts)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketLayouts)
		}
		data := b.Get([]byte(deviceID))
		if data == nil {
			return fmt.Errorf("layout %s: %w", deviceID, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteLayout forgets a probed layout so the next start probes again.
// Deleting a missing layout returns ErrNotFound.
func (s *BoltStore) DeleteLayout(deviceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLayouts)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketLayouts)
		}
		if b.Get([]byte(deviceID)) == nil {
			return fmt.Errorf("layout %s: %w", deviceID, ErrNotFound)
		}
		return b.Delete([]byte(deviceID))
	})
}

func (s *BoltStore) ListLayouts() ([]*LayoutRecord, error) {
	var records []*LayoutRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLayouts)
		if b == nil {
			return nil
		}
		records = make([]*LayoutRecord, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var rec LayoutRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode layout %s: %w", k, err)
			}
			records = append(records, &rec)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
