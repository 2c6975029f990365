package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const cartBucket = "carts"

// Store persists cart drafts per session key.
type Store interface {
	Load(ctx context.Context, key string) (State, bool, error)
	Save(ctx context.Context, key string, s State) error
	Delete(ctx context.Context, key string) error
}

// BoltStore keeps carts in a local BoltDB file so drafts survive restarts.
type BoltStore struct {
	db *bbolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cart store path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cart db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cartBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cart bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Load(ctx context.Context, key string) (State, bool, error) {
	if err := ctx.Err(); err != nil {
		return State{}, false, err
	}

	var (
		st    State
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket([]byte(cartBucket)).Get([]byte(key))
		if payload == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(payload, &st); err != nil {
			return fmt.Errorf("unmarshal cart: %w", err)
		}
		return nil
	})
	return st, found, err
}

func (s *BoltStore) Save(ctx context.Context, key string, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cartBucket)).Put([]byte(key), payload)
	})
}

func (s *BoltStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cartBucket)).Delete([]byte(key))
	})
}
