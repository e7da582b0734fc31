package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/MeKo-Tech/docstream/internal/document"
)

// Manager is the only way the rest of the system touches the document
// store. Read failures are reported as misses.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager wraps store. A nil logger uses slog.Default().
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Lookup returns the cached entry with stored explanations merged into its
// regions.
func (m *Manager) Lookup(ctx context.Context, hash string) (*document.Entry, bool) {
	entry, err := m.store.Get(ctx, hash)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("Cache read failed, treating as miss", "hash", hash, "error", err)
		}
		return nil, false
	}

	explanations, err := m.store.Explanations(ctx, hash)
	if err != nil {
		m.logger.Warn("Failed to load region explanations", "hash", hash, "error", err)
		return entry, true
	}
	for pi := range entry.Pages {
		for ri := range entry.Pages[pi].Regions {
			r := &entry.Pages[pi].Regions[ri]
			if text, ok := explanations[r.ID]; ok {
				r.Explanation = text
			}
		}
	}
	return entry, true
}

// Put stores a finalized entry. Failures are logged and returned; callers
// treat them as non-fatal.
func (m *Manager) Put(ctx context.Context, entry *document.Entry) error {
	if err := m.store.Put(ctx, entry); err != nil {
		m.logger.Warn("Cache write failed", "hash", entry.Hash, "error", err)
		return err
	}
	m.logger.Debug("Cached document", "hash", entry.Hash, "pages", len(entry.Pages))
	return nil
}

// AttachExplanation records the explanation of a region.
func (m *Manager) AttachExplanation(ctx context.Context, hash, regionID, text string) error {
	return m.store.PutExplanation(ctx, hash, regionID, text)
}

// Close closes the store if it holds resources.
func (m *Manager) Close() error {
	if c, ok := m.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
