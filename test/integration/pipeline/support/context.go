package support

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/docstream/internal/app"
	"github.com/MeKo-Tech/docstream/internal/cache"
	"github.com/MeKo-Tech/docstream/internal/config"
	"github.com/MeKo-Tech/docstream/internal/pipeline"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir string
	App     *app.App

	// Document under test
	Data       []byte
	PageTexts  []string
	LastEvents []pipeline.Event
	LastError  error
	// Per-client results of concurrent streams
	ClientEvents [][]pipeline.Event
	ClientErrors []error

	// HTTP state
	HTTPServer         *httptest.Server
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a new test context.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "docstream-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{TempDir: tempDir}, nil
}

// offlineConfig needs no models, cloud services or poppler. Rendering fails,
// so pages keep their native text and document coordinates.
func (testCtx *TestContext) offlineConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Images.Dir = filepath.Join(testCtx.TempDir, "images")
	cfg.Cache = cache.Config{Backend: cache.BackendSQLite, SQLitePath: filepath.Join(testCtx.TempDir, "db", "cache.db")}
	cfg.Pipeline.RunModel = false
	cfg.Pipeline.MaxWorkers = 2
	cfg.PDF.Pdftoppm = "docstream-test-missing-pdftoppm"
	cfg.Server.RateLimit = 0
	return &cfg
}

// anOfflineExtractionService wires the application.
func (testCtx *TestContext) anOfflineExtractionService() error {
	cfg := testCtx.offlineConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	testCtx.App = a
	return nil
}

// Cleanup stops the server, closes the application and removes temp files.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.App != nil {
		if err := testCtx.App.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close application: %w", err))
		}
		testCtx.App = nil
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	return errors.Join(errs...)
}
