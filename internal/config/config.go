package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/docstream/internal/ai"
	"github.com/MeKo-Tech/docstream/internal/cache"
	"github.com/MeKo-Tech/docstream/internal/detector"
	"github.com/MeKo-Tech/docstream/internal/imagestore"
	"github.com/MeKo-Tech/docstream/internal/models"
	"github.com/MeKo-Tech/docstream/internal/ocr"
	"github.com/MeKo-Tech/docstream/internal/onnx"
	"github.com/MeKo-Tech/docstream/internal/pdf"
	"github.com/MeKo-Tech/docstream/internal/pipeline"
	"github.com/MeKo-Tech/docstream/internal/regions"
)

// Config represents the complete configuration for docstream. It covers
// every command (extract, serve, cache, explain) and is loaded from
// configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Pipeline pipeline.Config `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Layout   LayoutConfig    `mapstructure:"layout" yaml:"layout" json:"layout"`
	Regions  regions.Config  `mapstructure:"regions" yaml:"regions" json:"regions"`
	PDF      PDFConfig       `mapstructure:"pdf" yaml:"pdf" json:"pdf"`
	OCR      OCRConfig       `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	AI       AIConfig        `mapstructure:"ai" yaml:"ai" json:"ai"`
	Images   ImagesConfig    `mapstructure:"images" yaml:"images" json:"images"`
	Cache    cache.Config    `mapstructure:"cache" yaml:"cache" json:"cache"`
	Server   ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	GPU      GPUConfig       `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// LayoutConfig contains layout model settings.
type LayoutConfig struct {
	ModelPath           string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	LibraryPath         string  `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	InputSize           int     `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`
	IoUThreshold        float64 `mapstructure:"iou_threshold" yaml:"iou_threshold" json:"iou_threshold"`
	IoAThreshold        float64 `mapstructure:"ioa_threshold" yaml:"ioa_threshold" json:"ioa_threshold"`
	NumThreads          int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	MaxConcurrent       int64   `mapstructure:"max_concurrent" yaml:"max_concurrent" json:"max_concurrent"`
}

// PDFConfig contains document access settings.
type PDFConfig struct {
	UserPassword  string `mapstructure:"user_password" yaml:"user_password" json:"-"`
	OwnerPassword string `mapstructure:"owner_password" yaml:"owner_password" json:"-"`
	Pdftoppm      string `mapstructure:"pdftoppm" yaml:"pdftoppm" json:"pdftoppm"`
	TempDir       string `mapstructure:"temp_dir" yaml:"temp_dir" json:"temp_dir"`
}

// OCRConfig selects the cloud OCR tier.
type OCRConfig struct {
	Provider   string               `mapstructure:"provider" yaml:"provider" json:"provider"`
	DocumentAI ocr.DocumentAIConfig `mapstructure:"documentai" yaml:"documentai" json:"documentai"`
	Languages  []string             `mapstructure:"languages" yaml:"languages" json:"languages"`
}

// AIConfig configures the generative model and its call guard.
type AIConfig struct {
	Vertex ai.VertexConfig `mapstructure:"vertex" yaml:"vertex" json:"vertex"`
	Guard  ai.GuardConfig  `mapstructure:"guard" yaml:"guard" json:"guard"`
}

// ImagesConfig selects where page and region images are stored.
type ImagesConfig struct {
	Backend   string               `mapstructure:"backend" yaml:"backend" json:"backend"`
	Dir       string               `mapstructure:"dir" yaml:"dir" json:"dir"`
	URLPrefix string               `mapstructure:"url_prefix" yaml:"url_prefix" json:"url_prefix"`
	GCS       imagestore.GCSConfig `mapstructure:"gcs" yaml:"gcs" json:"gcs"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string  `mapstructure:"host" yaml:"host" json:"host"`
	Port            int     `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string  `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int     `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int     `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int     `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       float64 `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	RateBurst       int     `mapstructure:"rate_burst" yaml:"rate_burst" json:"rate_burst"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

const (
	ProviderNone       = "none"
	ProviderDocumentAI = "documentai"
	ProviderTesseract  = "tesseract"

	ImagesFS  = "fs"
	ImagesGCS = "gcs"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	det := detector.DefaultConfig()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Pipeline:  pipeline.DefaultConfig(),
		Layout: LayoutConfig{
			InputSize:           det.InputSize,
			ConfidenceThreshold: det.ConfidenceThreshold,
			IoUThreshold:        det.IoUThreshold,
			IoAThreshold:        det.IoAThreshold,
			NumThreads:          det.NumThreads,
			MaxConcurrent:       det.MaxConcurrent,
		},
		Regions: regions.DefaultConfig(),
		PDF:     PDFConfig{Pdftoppm: "pdftoppm"},
		OCR: OCRConfig{
			Provider:   ProviderNone,
			DocumentAI: ocr.DocumentAIConfig{Location: "us"},
			Languages:  []string{"eng"},
		},
		AI: AIConfig{
			Vertex: ai.VertexConfig{Region: "us-central1", Model: ai.DefaultModel},
			Guard:  ai.DefaultGuardConfig(),
		},
		Images: ImagesConfig{
			Backend:   ImagesFS,
			Dir:       "data/images",
			URLPrefix: imagestore.DefaultURLPrefix,
		},
		Cache: cache.Config{
			Backend:    cache.BackendSQLite,
			SQLitePath: "data/docstream.db",
			BadgerPath: "data/badger",
			Collection: cache.DefaultCollection,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      300,
			ShutdownTimeout: 10,
			RateLimit:       2,
			RateBurst:       5,
		},
		GPU: GPUConfig{MemoryLimit: "auto"},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Regions.Validate(); err != nil {
		return fmt.Errorf("regions: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	if err := validateThreshold(c.Layout.ConfidenceThreshold, "layout.confidence_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Layout.IoUThreshold, "layout.iou_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Layout.IoAThreshold, "layout.ioa_threshold"); err != nil {
		return err
	}
	if c.Layout.InputSize <= 0 {
		return fmt.Errorf("invalid layout input size: %d (must be positive)", c.Layout.InputSize)
	}

	validProviders := []string{ProviderNone, ProviderDocumentAI, ProviderTesseract}
	if !slices.Contains(validProviders, c.OCR.Provider) {
		return fmt.Errorf("invalid ocr provider: %s (must be one of: %s)", c.OCR.Provider, strings.Join(validProviders, ", "))
	}
	if c.OCR.Provider == ProviderDocumentAI && !c.OCR.DocumentAI.Enabled() {
		return fmt.Errorf("ocr.documentai requires project_id and processor_id")
	}

	switch c.Images.Backend {
	case ImagesFS:
		if c.Images.Dir == "" {
			return fmt.Errorf("images.dir is required for the fs backend")
		}
	case ImagesGCS:
		if c.Images.GCS.Bucket == "" {
			return fmt.Errorf("images.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("invalid images backend: %s (must be %s or %s)", c.Images.Backend, ImagesFS, ImagesGCS)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %.2f (must not be negative)", c.Server.RateLimit)
	}

	if _, err := parseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	return nil
}

// ToDetectorConfig converts to detector.Config. Model paths resolve against
// ModelsDir.
func (c *Config) ToDetectorConfig() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.ModelPath = models.GetLayoutModelPath(c.ModelsDir, "")
	if c.Layout.ModelPath != "" {
		cfg.ModelPath = c.Layout.ModelPath
	}
	cfg.LibraryPath = c.Layout.LibraryPath
	cfg.InputSize = c.Layout.InputSize
	cfg.ConfidenceThreshold = c.Layout.ConfidenceThreshold
	cfg.IoUThreshold = c.Layout.IoUThreshold
	cfg.IoAThreshold = c.Layout.IoAThreshold
	cfg.NumThreads = c.Layout.NumThreads
	cfg.MaxConcurrent = c.Layout.MaxConcurrent
	cfg.GPU = c.toGPUConfig()
	return cfg
}

// toGPUConfig converts to onnx.GPUConfig.
func (c *Config) toGPUConfig() onnx.GPUConfig {
	cfg := onnx.DefaultGPUConfig()
	cfg.UseGPU = c.GPU.Enabled
	cfg.DeviceID = c.GPU.Device
	if limit, err := parseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		cfg.MemLimit = limit
	}
	return cfg
}

// ToPDFOptions converts to pdf.Options.
func (c *Config) ToPDFOptions() pdf.Options {
	return pdf.Options{
		Credentials: pdf.Credentials{
			UserPassword:  c.PDF.UserPassword,
			OwnerPassword: c.PDF.OwnerPassword,
		},
		TempDir:    c.PDF.TempDir,
		Rasterizer: pdf.NewPdftoppm(c.PDF.Pdftoppm),
	}
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// parseMemoryLimit parses a GPU memory limit such as "1GB" or "512MB".
// "auto" and "" mean unlimited.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	// Longest suffix first so "MB" is not read as "B".
	units := []struct {
		suffix string
		scale  float64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(upper, u.suffix), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
