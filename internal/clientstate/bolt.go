package clientstate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

var (
	bucketName = []byte("storefront")
	sessionKey = []byte("session")
)

// BoltStore keeps the session as one JSON record in a BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens (or creates) the database at path and ensures the
// bucket exists. A second process holding the file lock makes Open fail
// after one second.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening state file %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating state bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load implements Store.
func (s *BoltStore) Load(ctx context.Context) (RetainedSession, error) {
	var out RetainedSession
	if err := ctx.Err(); err != nil {
		return out, err
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		return readSession(tx, &out)
	})
	return out, err
}

// Save implements Store. Identical payloads skip the write.
func (s *BoltStore) Save(ctx context.Context, session RetainedSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return writeSession(tx, session)
	})
}

// Update implements Store inside a single read-write transaction.
func (s *BoltStore) Update(ctx context.Context, fn func(*RetainedSession) error) (RetainedSession, error) {
	var out RetainedSession
	if err := ctx.Err(); err != nil {
		return out, err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := readSession(tx, &out); err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		return writeSession(tx, out)
	})
	return out, err
}

func readSession(tx *bolt.Tx, out *RetainedSession) error {
	b := tx.Bucket(bucketName)
	if b == nil {
		return bolt.ErrBucketNotFound
	}
	v := b.Get(sessionKey)
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(v, out); err != nil {
		return fmt.Errorf("decoding retained session: %w", err)
	}
	return nil
}

func writeSession(tx *bolt.Tx, session RetainedSession) error {
	b := tx.Bucket(bucketName)
	if b == nil {
		return bolt.ErrBucketNotFound
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding retained session: %w", err)
	}
	if bytes.Equal(b.Get(sessionKey), data) {
		return nil
	}
	return b.Put(sessionKey, data)
}
