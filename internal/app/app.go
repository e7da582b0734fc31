// Package app builds the long-lived collaborators from configuration. The
// CLI and the server construct one App at startup and close it at shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/MeKo-Tech/docstream/internal/ai"
	"github.com/MeKo-Tech/docstream/internal/cache"
	"github.com/MeKo-Tech/docstream/internal/config"
	"github.com/MeKo-Tech/docstream/internal/detector"
	"github.com/MeKo-Tech/docstream/internal/explain"
	"github.com/MeKo-Tech/docstream/internal/imagestore"
	"github.com/MeKo-Tech/docstream/internal/ocr"
	"github.com/MeKo-Tech/docstream/internal/onnx"
	"github.com/MeKo-Tech/docstream/internal/pdf"
	"github.com/MeKo-Tech/docstream/internal/pipeline"
	"github.com/MeKo-Tech/docstream/internal/regions"
	"github.com/MeKo-Tech/docstream/internal/textchain"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Pipeline  *pipeline.Pipeline
	Cache     *cache.Manager
	Images    imagestore.Store
	Explainer *explain.Explainer
	AI        ai.Service
	OCR       ocr.Service
	Logger    *slog.Logger

	layout  *detector.Detector
	closers []io.Closer
}

// New wires every component described by cfg. Optional collaborators that
// fail to start (layout model, cloud clients) are logged and left out.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	images, err := a.openImages(ctx)
	if err != nil {
		return nil, err
	}
	a.Images = images

	store, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}
	a.Cache = cache.NewManager(store, logger)
	a.closers = append(a.closers, a.Cache)

	a.AI = a.openAI(ctx)
	a.OCR = a.openOCR(ctx)

	opts := []regions.Option{regions.WithLogger(logger)}
	if cfg.Pipeline.RunModel {
		if det := a.openLayout(); det != nil {
			opts = append(opts, regions.WithModel(det))
		}
	}
	if a.AI != nil {
		opts = append(opts, regions.WithConfirmer(regions.NewEquationConfirmer(a.AI)))
	}
	regionDetector, err := regions.New(cfg.Regions, images, opts...)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.NewBuilder().
		WithConfig(cfg.Pipeline).
		WithOpener(pipeline.PDFOpener(pdf.NewOpener(cfg.ToPDFOptions()))).
		WithTextChain(textchain.New(a.OCR, a.AI, textchain.Options{Logger: logger})).
		WithRegions(regionDetector).
		WithImages(images).
		WithCache(a.Cache).
		WithLogger(logger).
		Build()
	if err != nil {
		return nil, err
	}
	a.Pipeline = p
	a.Explainer = explain.New(a.Cache, images, a.AI, logger)

	logger.Info("Components ready",
		"cache", cfg.Cache.Backend,
		"images", cfg.Images.Backend,
		"ocr", cfg.OCR.Provider,
		"ai", a.AI != nil,
		"layout_model", a.layout != nil)
	ok = true
	return a, nil
}

// LayoutEnabled reports whether the layout model was loaded.
func (a *App) LayoutEnabled() bool { return a.layout != nil }

// Close releases every component in reverse construction order.
func (a *App) Close() error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.layout != nil {
		if err := onnx.DestroyEnvironment(); err != nil {
			errs = append(errs, err)
		}
		a.layout = nil
	}
	return errors.Join(errs...)
}

func (a *App) openImages(ctx context.Context) (imagestore.Store, error) {
	cfg := a.Config.Images
	if cfg.Backend == config.ImagesGCS {
		s, err := imagestore.NewGCS(ctx, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("open image bucket: %w", err)
		}
		a.closers = append(a.closers, s)
		return s, nil
	}
	return imagestore.NewFS(cfg.Dir, cfg.URLPrefix)
}

func (a *App) openCache(ctx context.Context) (cache.Store, error) {
	cfg := a.Config.Cache
	for _, path := range []string{cfg.SQLitePath, cfg.BadgerPath} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	store, err := cache.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return store, nil
}

func (a *App) openAI(ctx context.Context) ai.Service {
	cfg := a.Config.AI
	if !cfg.Vertex.Enabled() {
		a.Logger.Info("Generative model not configured; OCR fallback and explanations are limited")
		return nil
	}
	svc, err := ai.NewVertexService(ctx, cfg.Vertex)
	if err != nil {
		a.Logger.Warn("Generative model unavailable", "error", err)
		return nil
	}
	a.closers = append(a.closers, svc)
	return ai.NewGuarded(svc, cfg.Guard)
}

func (a *App) openOCR(ctx context.Context) ocr.Service {
	cfg := a.Config.OCR
	switch cfg.Provider {
	case config.ProviderDocumentAI:
		svc, err := ocr.NewDocumentAI(ctx, cfg.DocumentAI)
		if err != nil {
			a.Logger.Warn("Document AI unavailable", "error", err)
			return nil
		}
		a.closers = append(a.closers, svc)
		return svc
	case config.ProviderTesseract:
		svc, err := ocr.NewTesseract(cfg.Languages...)
		if err != nil {
			a.Logger.Warn("Tesseract unavailable", "error", err)
			return nil
		}
		return svc
	default:
		return nil
	}
}

func (a *App) openLayout() *detector.Detector {
	det, err := detector.NewONNXDetector(a.Config.ToDetectorConfig())
	if err != nil {
		a.Logger.Warn("Layout model unavailable; using heuristic regions only", "error", err)
		return nil
	}
	a.layout = det
	a.closers = append(a.closers, det)
	return det
}
