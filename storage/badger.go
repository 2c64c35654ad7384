package storage

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

// BadgerStore is a Store backed by BadgerDB
type BadgerStore struct {
	DB *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// BadgerConfig configures a BadgerStore
type BadgerConfig struct {
	// DBPath is the database directory. Ignored when InMemory is set.
	DBPath string

	// EncryptionKey enables encryption at rest (16, 24 or 32 bytes)
	EncryptionKey []byte

	// InMemory keeps the database in memory only
	InMemory bool
}

// NewBadgerStore opens a BadgerDB store
func NewBadgerStore(config BadgerConfig) (*BadgerStore, error) {
	path := config.DBPath
	if config.InMemory {
		path = ""
	} else if path == "" {
		return nil, fmt.Errorf("badger: db path is required")
	}

	opts := badger.DefaultOptions(path).
		WithInMemory(config.InMemory).
		WithSyncWrites(true).
		WithLogger(nil)

	if len(config.EncryptionKey) > 0 {
		// Encryption requires an index cache
		opts = opts.
			WithEncryptionKey(config.EncryptionKey).
			WithIndexCacheSize(16 << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", path, err)
	}

	log.Debug().Str("path", path).Bool("in_memory", config.InMemory).Msg("opened badger store")
	return &BadgerStore{DB: db}, nil
}

// Set implements Store
func (b *BadgerStore) Set(key string, value []byte) error {
	return b.DB.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Get implements Store
func (b *BadgerStore) Get(key string) ([]byte, error) {
	var result []byte
	err := b.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			result = append([]byte{}, val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return result, err
}

// Delete implements Store
func (b *BadgerStore) Delete(key string) error {
	return b.DB.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Close implements Store
func (b *BadgerStore) Close() error {
	return b.DB.Close()
}
