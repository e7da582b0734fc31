package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
)

func sampleEntry(hash string) *document.Entry {
	return &document.Entry{
		Hash:     hash,
		FullText: "one\ftwo",
		Pages: []document.Page{
			{
				PageNumber: 1, TotalPages: 2, Phase: document.PhaseFinal, Tier: document.TierNative,
				Text:  "one",
				Words: []document.Word{{Text: "one", BBox: geometry.NewBox(1, 2, 30, 14, geometry.Pixel)}},
				Regions: []document.Region{{
					ID: "r-1", Label: document.LabelFigure, Source: document.SourceModel, Confidence: 0.9,
					BBox: geometry.NewBox(10, 10, 100, 100, geometry.Pixel), ImageURL: "/images/x/p0001-r00.png",
				}},
				Links: []document.Link{},
			},
			{PageNumber: 2, TotalPages: 2, Phase: document.PhaseFinal, Tier: document.TierNone, Unextractable: true},
		},
		ImageURLs: []string{"/images/x/page-0001.png"},
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlStore, err := NewSQLStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	badgerStore, err := NewBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerStore.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlStore,
		"badger": badgerStore,
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			want := sampleEntry("abc")
			require.NoError(t, store.Put(ctx, want))
			got, err := store.Get(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, want, got)

			// Overwrite is allowed and returns the latest entry.
			want.FullText = "updated"
			require.NoError(t, store.Put(ctx, want))
			got, err = store.Get(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, "updated", got.FullText)

			ex, err := store.Explanations(ctx, "abc")
			require.NoError(t, err)
			assert.Empty(t, ex)

			require.NoError(t, store.PutExplanation(ctx, "abc", "r-1", "a bar chart"))
			require.NoError(t, store.PutExplanation(ctx, "abc", "r-2", "first"))
			require.NoError(t, store.PutExplanation(ctx, "abc", "r-2", "second"))
			require.NoError(t, store.PutExplanation(ctx, "abd", "r-9", "other doc"))
			ex, err = store.Explanations(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"r-1": "a bar chart", "r-2": "second"}, ex)

			assert.Error(t, store.Put(ctx, &document.Entry{}))
		})
	}
}

func TestMemoryCopiesEntries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	e := sampleEntry("abc")
	require.NoError(t, m.Put(ctx, e))
	e.Pages[0].Text = "mutated"

	got, err := m.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "one", got.Pages[0].Text)
}

func TestManagerLookupMergesExplanations(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(NewMemory(), nil)

	_, ok := mgr.Lookup(ctx, "abc")
	assert.False(t, ok)

	require.NoError(t, mgr.Put(ctx, sampleEntry("abc")))
	require.NoError(t, mgr.AttachExplanation(ctx, "abc", "r-1", "shows revenue"))

	entry, ok := mgr.Lookup(ctx, "abc")
	require.True(t, ok)
	assert.Equal(t, "shows revenue", entry.Pages[0].Regions[0].Explanation)
	assert.NoError(t, mgr.Close())
}

type brokenStore struct {
	getErr, putErr, explainErr error
	entry                      *document.Entry
}

func (b *brokenStore) Get(context.Context, string) (*document.Entry, error) {
	return b.entry, b.getErr
}
func (b *brokenStore) Put(context.Context, *document.Entry) error { return b.putErr }
func (b *brokenStore) PutExplanation(context.Context, string, string, string) error {
	return b.putErr
}
func (b *brokenStore) Explanations(context.Context, string) (map[string]string, error) {
	return nil, b.explainErr
}

func TestManagerDegradesOnBackendFailure(t *testing.T) {
	ctx := context.Background()

	mgr := NewManager(&brokenStore{getErr: errors.New("connection reset")}, nil)
	_, ok := mgr.Lookup(ctx, "abc")
	assert.False(t, ok, "read failure is a miss")

	mgr = NewManager(&brokenStore{putErr: errors.New("disk full")}, nil)
	assert.Error(t, mgr.Put(ctx, sampleEntry("abc")))

	mgr = NewManager(&brokenStore{entry: sampleEntry("abc"), explainErr: errors.New("timeout")}, nil)
	entry, ok := mgr.Lookup(ctx, "abc")
	require.True(t, ok)
	assert.Empty(t, entry.Pages[0].Regions[0].Explanation)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Backend: "badger"}.Validate())
	assert.Error(t, Config{Backend: "sqlite"}.Validate())
	assert.Error(t, Config{Backend: "firestore"}.Validate())
	assert.Error(t, Config{Backend: "redis"}.Validate())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, Config{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.(*SQLStore).Close())
}
