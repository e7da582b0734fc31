package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docstream/internal/app"
	"github.com/MeKo-Tech/docstream/internal/config"
	"github.com/MeKo-Tech/docstream/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket API",
	Long: `Start an HTTP server that streams document extraction.

The server provides the following endpoints:
  POST /documents                                 - Upload a PDF, stream pages as NDJSON
  GET  /documents/{hash}                          - Fetch a cached document
  GET  /documents/{hash}/images                   - List page and region images
  POST /documents/{hash}/regions/{id}/explain     - Explain a figure, table or equation
  GET  /ws/documents                              - Stream documents over a WebSocket
  GET  /health                                    - Health check endpoint
  GET  /metrics                                   - Prometheus metrics

Examples:
  docstream serve
  docstream serve --port 8080
  docstream serve --host 0.0.0.0 --port 3000 --rate-limit 5`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 300, "per-document timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Float64("rate-limit", 2, "requests per second per client (0 disables)")
	serveCmd.Flags().Int("rate-burst", 5, "burst size per client")
	serveCmd.Flags().Bool("no-model", false, "skip the layout model; heuristics only")
}

// applyServeFlags overlays explicitly set flags on the loaded configuration.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Server.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if f.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = f.GetInt("max-upload-size")
	}
	if f.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = f.GetInt("timeout")
	}
	if f.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
	}
	if f.Changed("rate-limit") {
		cfg.Server.RateLimit, _ = f.GetFloat64("rate-limit")
	}
	if f.Changed("rate-burst") {
		cfg.Server.RateBurst, _ = f.GetInt("rate-burst")
	}
	if f.Changed("no-model") {
		noModel, _ := f.GetBool("no-model")
		cfg.Pipeline.RunModel = !noModel
	}
}

// serverConfig maps the application configuration onto the HTTP server.
func serverConfig(cfg *config.Config) server.Config {
	sc := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		CORSOrigin:      cfg.Server.CORSOrigin,
		MaxUploadMB:     int64(cfg.Server.MaxUploadMB),
		TimeoutSec:      cfg.Server.TimeoutSec,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
	}
	// GCS URLs point at the bucket; only filesystem images are served here.
	if cfg.Images.Backend == config.ImagesFS {
		sc.ImageURLPrefix = cfg.Images.URLPrefix
	}
	return sc
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := *GetConfig()
	applyServeFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, &cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Shutdown incomplete", "error", err)
		}
	}()

	srv, err := server.NewServer(serverConfig(&cfg), server.Deps{
		Pipeline:  a.Pipeline,
		Cache:     a.Cache,
		Images:    a.Images,
		Explainer: a.Explainer,
		Logger:    slog.Default(),
	})
	if err != nil {
		return err
	}
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	slog.Info("Server stopped")
	return nil
}
