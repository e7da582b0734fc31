package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/explain"
	"github.com/MeKo-Tech/docstream/internal/pipeline"
	"github.com/MeKo-Tech/docstream/internal/version"
)

// documentStreamer is what the server needs from the pipeline.
type documentStreamer interface {
	Stream(ctx context.Context, data []byte) iter.Seq2[pipeline.Event, error]
}

// documentCache reads finished documents.
type documentCache interface {
	Lookup(ctx context.Context, hash string) (*document.Entry, bool)
}

// imageStore lists and serves stored page and region images.
type imageStore interface {
	List(ctx context.Context, hash string) ([]string, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// regionExplainer produces region explanations.
type regionExplainer interface {
	Explain(ctx context.Context, hash, regionID string, force bool) (explain.Result, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    documentStreamer
	cache       documentCache
	images      imageStore
	explainer   regionExplainer
	rateLimiter *RateLimiter
	logger      *slog.Logger

	corsOrigin      string
	maxUploadMB     int64
	timeout         time.Duration
	shutdownTimeout time.Duration
	imagePrefix     string
	addr            string
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64
	TimeoutSec      int
	ShutdownTimeout int
	RateLimit       float64 // requests per second per client; 0 disables
	RateBurst       int
	ImageURLPrefix  string // path under which the filesystem image store is served
}

// Deps are the collaborators the server exposes. Pipeline and Cache are
// required.
type Deps struct {
	Pipeline  documentStreamer
	Cache     documentCache
	Images    imageStore
	Explainer regionExplainer
	Logger    *slog.Logger
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error      string  `json:"error"`
	Message    string  `json:"message,omitempty"`
	Hash       string  `json:"hash,omitempty"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

// ImagesResponse lists the images of a document.
type ImagesResponse struct {
	Hash      string   `json:"hash"`
	ImageURLs []string `json:"image_urls"`
	Stored    []string `json:"stored,omitempty"`
}

// StreamError is the NDJSON line written when a stream fails after it
// started.
type StreamError struct {
	Type  string `json:"type"`
	Hash  string `json:"hash,omitempty"`
	Error string `json:"error"`
}

// NewServer creates a new server instance.
func NewServer(config Config, deps Deps) (*Server, error) {
	if deps.Pipeline == nil || deps.Cache == nil {
		return nil, errors.New("server requires a pipeline and a cache")
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 50
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 300
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		pipeline:        deps.Pipeline,
		cache:           deps.Cache,
		images:          deps.Images,
		explainer:       deps.Explainer,
		logger:          logger,
		corsOrigin:      config.CORSOrigin,
		maxUploadMB:     config.MaxUploadMB,
		timeout:         time.Duration(config.TimeoutSec) * time.Second,
		shutdownTimeout: time.Duration(config.ShutdownTimeout) * time.Second,
		imagePrefix:     strings.TrimSuffix(config.ImageURLPrefix, "/"),
		addr:            net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
	}
	if config.RateLimit > 0 {
		s.rateLimiter = NewRateLimiter(config.RateLimit, config.RateBurst)
	}
	return s, nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /documents", s.rateLimitMiddleware(s.streamDocumentHandler))
	mux.HandleFunc("GET /documents/{hash}", s.getDocumentHandler)
	mux.HandleFunc("GET /documents/{hash}/images", s.listImagesHandler)
	mux.HandleFunc("POST /documents/{hash}/regions/{id}/explain", s.rateLimitMiddleware(s.explainHandler))
	mux.HandleFunc("GET /ws/documents", s.rateLimitMiddleware(s.documentWebSocketHandler))

	if s.imagePrefix != "" && s.images != nil {
		mux.HandleFunc("GET "+s.imagePrefix+"/{hash}/{name}", s.imageHandler)
	}
}

// Handler returns the complete HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return s.corsMiddleware(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", "addr", s.addr, "version", version.Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server", "timeout", s.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
