package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/MeKo-Tech/docstream/internal/document"
)

// Memory is a process-local store. Entries are copied on the way in and out.
type Memory struct {
	mu           sync.RWMutex
	entries      map[string][]byte
	explanations map[string]map[string]string
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		entries:      make(map[string][]byte),
		explanations: make(map[string]map[string]string),
	}
}

func (m *Memory) Get(_ context.Context, hash string) (*document.Entry, error) {
	m.mu.RLock()
	data, ok := m.entries[hash]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeEntry(data)
}

func (m *Memory) Put(_ context.Context, entry *document.Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[entry.Hash] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) PutExplanation(_ context.Context, hash, regionID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.explanations[hash] == nil {
		m.explanations[hash] = make(map[string]string)
	}
	m.explanations[hash][regionID] = text
	return nil
}

func (m *Memory) Explanations(_ context.Context, hash string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.explanations[hash]))
	maps.Copy(out, m.explanations[hash])
	return out, nil
}

func encodeEntry(entry *document.Entry) ([]byte, error) {
	if entry == nil || entry.Hash == "" {
		return nil, fmt.Errorf("cache entry without hash")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*document.Entry, error) {
	var entry document.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &entry, nil
}
