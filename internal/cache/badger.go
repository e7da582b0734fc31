package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/MeKo-Tech/docstream/internal/document"
)

const (
	entryPrefix   = "entry:"
	explainPrefix = "explain:"
)

// BadgerStore keeps entries in an embedded key-value store.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the store at path. An empty path keeps it in memory.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(_ context.Context, hash string) (*document.Entry, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(entryPrefix + hash))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	return decodeEntry(data)
}

func (s *BadgerStore) Put(_ context.Context, entry *document.Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(entryPrefix+entry.Hash), data)
	})
}

func (s *BadgerStore) PutExplanation(_ context.Context, hash, regionID, text string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(explainPrefix+hash+":"+regionID), []byte(text))
	})
}

func (s *BadgerStore) Explanations(_ context.Context, hash string) (map[string]string, error) {
	out := make(map[string]string)
	prefix := []byte(explainPrefix + hash + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			regionID := strings.TrimPrefix(string(item.Key()), string(prefix))
			if err := item.Value(func(v []byte) error {
				out[regionID] = string(v)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read explanations: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
