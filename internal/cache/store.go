// Package cache keeps finalized extraction results per document hash so a
// document is processed at most once, plus the region explanations that
// are attached later.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/docstream/internal/document"
)

// ErrNotFound is returned by Store.Get for unknown hashes.
var ErrNotFound = errors.New("cache entry not found")

// Store is a document store backend.
type Store interface {
	Get(ctx context.Context, hash string) (*document.Entry, error)
	Put(ctx context.Context, entry *document.Entry) error
	PutExplanation(ctx context.Context, hash, regionID, text string) error
	Explanations(ctx context.Context, hash string) (map[string]string, error)
}

// Backend names accepted by Open.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendBadger    = "badger"
	BackendFirestore = "firestore"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string `mapstructure:"backend" yaml:"backend" json:"backend"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path" json:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path" yaml:"badger_path" json:"badger_path"`
	ProjectID  string `mapstructure:"project_id" yaml:"project_id" json:"project_id"`
	Collection string `mapstructure:"collection" yaml:"collection" json:"collection"`
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case "", BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("cache.sqlite_path is required for the sqlite backend")
		}
	case BackendBadger:
	case BackendFirestore:
		if c.ProjectID == "" {
			return errors.New("cache.project_id is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Backend)
	}
	return nil
}

// Open creates the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Backend) {
	case BackendSQLite:
		return NewSQLStore(cfg.SQLitePath)
	case BackendBadger:
		return NewBadgerStore(cfg.BadgerPath)
	case BackendFirestore:
		return NewFirestoreStore(ctx, cfg.ProjectID, cfg.Collection)
	default:
		return NewMemory(), nil
	}
}
