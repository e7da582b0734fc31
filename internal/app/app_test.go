package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docstream/internal/cache"
	"github.com/MeKo-Tech/docstream/internal/config"
	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/testutil"
)

func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.Images.Dir = filepath.Join(dir, "images")
	cfg.Cache = cache.Config{Backend: cache.BackendSQLite, SQLitePath: filepath.Join(dir, "db", "cache.db")}
	cfg.Pipeline.RunModel = false
	cfg.Pipeline.MaxWorkers = 2
	// Rendering fails without poppler; pages keep their native text.
	cfg.PDF.Pdftoppm = "docstream-test-missing-pdftoppm"
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestNewOffline(t *testing.T) {
	a, err := New(context.Background(), offlineConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.Pipeline)
	assert.NotNil(t, a.Cache)
	assert.NotNil(t, a.Explainer)
	assert.Nil(t, a.AI)
	assert.Nil(t, a.OCR)
	assert.False(t, a.LayoutEnabled())
}

func TestNewRejectsBrokenCache(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Cache.Backend = "redis"
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNewSkipsMissingLayoutModel(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Pipeline.RunModel = true
	cfg.Layout.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.False(t, a.LayoutEnabled())
}

func TestProcessNativePDF(t *testing.T) {
	a, err := New(context.Background(), offlineConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	page := testutil.LetterPage()
	page.Texts = []testutil.PDFText{{X: 72, Y: 700, Size: 12, Text: "Hello docstream"}}
	data := testutil.BuildPDF(page, page)

	entry, err := a.Pipeline.Process(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, entry.Pages, 2)
	assert.Equal(t, document.TierNative, entry.Pages[0].Tier)
	assert.True(t, entry.Pages[0].RenderFailed)
	assert.Contains(t, entry.FullText, "Hello docstream")

	cached, ok := a.Cache.Lookup(context.Background(), entry.Hash)
	require.True(t, ok)
	assert.Equal(t, entry.FullText, cached.FullText)
}
