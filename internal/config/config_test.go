package config

import (
	"strings"
	"testing"

	"github.com/MeKo-Tech/docstream/internal/cache"
	"github.com/MeKo-Tech/docstream/internal/models"
)

const infoLevel = "info"

// TestDefaultConfig verifies that DefaultConfig returns expected values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ModelsDir != models.DefaultModelsDir {
		t.Errorf("Expected models_dir %s, got %s", models.DefaultModelsDir, cfg.ModelsDir)
	}
	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected log_level '%s', got %s", infoLevel, cfg.LogLevel)
	}
	if cfg.Pipeline.DPI != 200 {
		t.Errorf("Expected pipeline dpi 200, got %d", cfg.Pipeline.DPI)
	}
	if cfg.Pipeline.PageSeparator != "\f" {
		t.Errorf("Expected form feed page separator, got %q", cfg.Pipeline.PageSeparator)
	}
	if cfg.Layout.InputSize != 1024 {
		t.Errorf("Expected layout input size 1024, got %d", cfg.Layout.InputSize)
	}
	if cfg.Regions.ContainmentThreshold != 0.8 {
		t.Errorf("Expected containment threshold 0.8, got %f", cfg.Regions.ContainmentThreshold)
	}
	if cfg.OCR.Provider != ProviderNone {
		t.Errorf("Expected ocr provider none, got %s", cfg.OCR.Provider)
	}
	if cfg.Cache.Backend != cache.BackendSQLite {
		t.Errorf("Expected sqlite cache, got %s", cfg.Cache.Backend)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected server port 8080, got %d", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

// TestValidate covers each rejected setting.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"bad dpi", func(c *Config) { c.Pipeline.DPI = 0 }, "pipeline"},
		{"bad containment", func(c *Config) { c.Regions.ContainmentThreshold = 1.5 }, "regions"},
		{"bad cache backend", func(c *Config) { c.Cache.Backend = "redis" }, "cache"},
		{"firestore without project", func(c *Config) { c.Cache.Backend = cache.BackendFirestore }, "project_id"},
		{"bad confidence", func(c *Config) { c.Layout.ConfidenceThreshold = -0.1 }, "layout.confidence_threshold"},
		{"bad input size", func(c *Config) { c.Layout.InputSize = 0 }, "input size"},
		{"bad ocr provider", func(c *Config) { c.OCR.Provider = "azure" }, "invalid ocr provider"},
		{"documentai without processor", func(c *Config) { c.OCR.Provider = ProviderDocumentAI }, "processor_id"},
		{"gcs without bucket", func(c *Config) { c.Images.Backend = ImagesGCS }, "bucket"},
		{"fs without dir", func(c *Config) { c.Images.Dir = "" }, "images.dir"},
		{"bad images backend", func(c *Config) { c.Images.Backend = "s3" }, "invalid images backend"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"bad upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "invalid max upload size"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "invalid rate limit"},
		{"bad memory limit", func(c *Config) { c.GPU.MemoryLimit = "lots" }, "invalid GPU memory limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestParseMemoryLimit tests GPU memory limit parsing.
func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		input   string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"auto", 0, false},
		{"512MB", 512 << 20, false},
		{"1GB", 1 << 30, false},
		{"1.5gb", 3 << 29, false},
		{"2048B", 2048, false},
		{"64KB", 64 << 10, false},
		{"GB", 0, true},
		{"12", 0, true},
		{"-1MB", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMemoryLimit(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMemoryLimit(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMemoryLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

// TestToDetectorConfig tests the conversion to detector settings.
func TestToDetectorConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelsDir = "/custom/models"
	cfg.Layout.ConfidenceThreshold = 0.3
	cfg.GPU.Enabled = true
	cfg.GPU.Device = 1
	cfg.GPU.MemoryLimit = "2GB"

	det := cfg.ToDetectorConfig()
	if det.ModelPath != models.GetLayoutModelPath("/custom/models", "") {
		t.Errorf("Unexpected model path %s", det.ModelPath)
	}
	if det.ConfidenceThreshold != 0.3 {
		t.Errorf("Expected confidence 0.3, got %f", det.ConfidenceThreshold)
	}
	if !det.GPU.UseGPU || det.GPU.DeviceID != 1 || det.GPU.MemLimit != 2<<30 {
		t.Errorf("Unexpected GPU config %+v", det.GPU)
	}
	if err := det.Validate(); err != nil {
		t.Errorf("Converted detector config should be valid: %v", err)
	}

	cfg.Layout.ModelPath = "/explicit/layout.onnx"
	if got := cfg.ToDetectorConfig().ModelPath; got != "/explicit/layout.onnx" {
		t.Errorf("Explicit model path not honored, got %s", got)
	}
}

// TestToPDFOptions tests the conversion to PDF options.
func TestToPDFOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PDF.UserPassword = "secret"
	opts := cfg.ToPDFOptions()
	if opts.Credentials.UserPassword != "secret" {
		t.Errorf("Expected user password to be carried over")
	}
	if opts.Rasterizer == nil {
		t.Errorf("Expected a rasterizer")
	}
}
