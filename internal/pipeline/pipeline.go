// Package pipeline turns a document into a stream of page records. Every
// page goes through three phases (native text, rendered raster with OCR
// fallback, regions) and each phase is emitted as soon as it completes,
// in page order. Finished documents are cached by content hash.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/docstream/internal/cache"
	"github.com/MeKo-Tech/docstream/internal/textchain"
)

// Pipeline streams documents. It is safe for concurrent use.
type Pipeline struct {
	cfg     Config
	opener  Opener
	chain   *textchain.Chain
	regions RegionDetector
	images  ImageSaver
	cache   *cache.Manager
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]*flight
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg     Config
	opener  Opener
	chain   *textchain.Chain
	regions RegionDetector
	images  ImageSaver
	cache   *cache.Manager
	logger  *slog.Logger
}

// NewBuilder creates a builder with default config.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the config.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithOpener sets the document opener. Required.
func (b *Builder) WithOpener(o Opener) *Builder {
	b.opener = o
	return b
}

// WithTextChain sets the text extraction chain. Defaults to native text only.
func (b *Builder) WithTextChain(c *textchain.Chain) *Builder {
	b.chain = c
	return b
}

// WithRegions sets the region detector. Without one pages get no regions.
func (b *Builder) WithRegions(r RegionDetector) *Builder {
	b.regions = r
	return b
}

// WithImages sets where rendered pages are stored.
func (b *Builder) WithImages(s ImageSaver) *Builder {
	b.images = s
	return b
}

// WithCache sets the cache manager. Defaults to an in-memory cache.
func (b *Builder) WithCache(m *cache.Manager) *Builder {
	b.cache = m
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithWorkers sets the page worker count and lookahead window.
func (b *Builder) WithWorkers(workers, lookahead int) *Builder {
	if workers > 0 {
		b.cfg.MaxWorkers = workers
	}
	if lookahead > 0 {
		b.cfg.Lookahead = lookahead
	}
	return b
}

// Build validates the configuration and creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if b.opener == nil {
		return nil, errors.New("pipeline requires a document opener")
	}
	p := &Pipeline{
		cfg:      b.cfg.withDefaults(),
		opener:   b.opener,
		chain:    b.chain,
		regions:  b.regions,
		images:   b.images,
		cache:    b.cache,
		logger:   b.logger,
		inflight: make(map[string]*flight),
	}
	if p.cfg.PageSeparator == "" {
		p.cfg.PageSeparator = DefaultPageSeparator
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.chain == nil {
		p.chain = textchain.New(nil, nil, textchain.Options{Logger: p.logger})
	}
	if p.cache == nil {
		p.cache = cache.NewManager(cache.NewMemory(), p.logger)
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Cache returns the cache manager.
func (p *Pipeline) Cache() *cache.Manager { return p.cache }
