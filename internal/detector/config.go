package detector

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/models"
	"github.com/MeKo-Tech/docstream/internal/onnx"
)

// Config holds configuration for the layout detector.
type Config struct {
	ModelPath           string     // Path to the ONNX layout model
	LibraryPath         string     // ONNX Runtime shared library (empty = search)
	InputSize           int        // Square model input size (default: 1024)
	ConfidenceThreshold float64    // Minimum detection score (default: 0.5)
	IoUThreshold        float64    // NMS IoU threshold (default: 0.5)
	IoAThreshold        float64    // NMS containment threshold (default: 0.8)
	Mean                [3]float32 // Per-channel mean after scaling to [0,1]
	Std                 [3]float32 // Per-channel std after scaling to [0,1]
	Labels              []string   // Class index to model class name
	NumThreads          int        // Intra-op threads (default: 0 for auto)
	MaxConcurrent       int64      // Concurrent inference runs (default: 1)
	InputName           string     // Model input tensor name
	OutputName          string     // Model output tensor name
	GPU                 onnx.GPUConfig
}

// DocLayoutLabels are the class names of the DocLayout-YOLO DocStructBench model.
var DocLayoutLabels = []string{
	"title", "plain text", "abandon", "figure", "figure_caption",
	"table", "table_caption", "table_footnote", "isolate_formula", "formula_caption",
}

// DefaultConfig returns the default layout detector configuration.
func DefaultConfig() Config {
	return Config{
		ModelPath:           models.GetLayoutModelPath("", ""),
		InputSize:           1024,
		ConfidenceThreshold: 0.5,
		IoUThreshold:        0.5,
		IoAThreshold:        0.8,
		Mean:                [3]float32{0, 0, 0},
		Std:                 [3]float32{1, 1, 1},
		Labels:              append([]string(nil), DocLayoutLabels...),
		MaxConcurrent:       1,
		InputName:           "images",
		OutputName:          "output0",
		GPU:                 onnx.DefaultGPUConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.InputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %f", c.ConfidenceThreshold)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("IoU threshold must be in [0,1], got %f", c.IoUThreshold)
	}
	if c.IoAThreshold < 0 || c.IoAThreshold > 1 {
		return fmt.Errorf("IoA threshold must be in [0,1], got %f", c.IoAThreshold)
	}
	for i, s := range c.Std {
		if s == 0 {
			return fmt.Errorf("std[%d] must be non-zero", i)
		}
	}
	if len(c.Labels) == 0 {
		return errors.New("at least one class label is required")
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max concurrent must be non-negative, got %d", c.MaxConcurrent)
	}
	return c.GPU.Validate()
}

// label maps a class index to a region label.
func (c Config) label(class int) (document.Label, string) {
	if class < 0 || class >= len(c.Labels) {
		return document.LabelOther, ""
	}
	name := c.Labels[class]
	return document.ParseLabel(name), name
}
