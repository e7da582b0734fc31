// Package detector runs the document layout model: letterbox preprocessing,
// ONNX inference, output decoding and dual-threshold suppression.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Detector turns page images into layout detections.
type Detector struct {
	config Config
	engine Engine
}

// New creates a detector around an existing engine.
func New(cfg Config, engine Engine) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	if engine == nil {
		return nil, errors.New("detector engine is nil")
	}
	return &Detector{config: cfg, engine: engine}, nil
}

// NewONNXDetector loads the ONNX layout model described by cfg.
func NewONNXDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	engine, err := NewONNXEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &Detector{config: cfg, engine: engine}, nil
}

// Config returns a copy of the detector configuration.
func (d *Detector) Config() Config {
	return d.config
}

// Predict runs the full detection path and reports any failure.
func (d *Detector) Predict(ctx context.Context, pageImage []byte) ([]Detection, error) {
	tensor, lb, err := Preprocess(pageImage, d.config)
	if err != nil {
		return nil, err
	}
	defer tensor.Release()

	data, shape, err := d.engine.Run(ctx, tensor)
	if err != nil {
		return nil, fmt.Errorf("layout inference: %w", err)
	}
	dets, err := Postprocess(data, shape, lb, d.config)
	if err != nil {
		return nil, fmt.Errorf("layout postprocess: %w", err)
	}
	return dets, nil
}

// Detect is the best-effort variant of Predict: failures are logged and
// yield no detections.
func (d *Detector) Detect(ctx context.Context, pageImage []byte) []Detection {
	dets, err := d.Predict(ctx, pageImage)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Layout detection failed", "error", err)
		}
		return nil
	}
	return dets
}

// Close releases the engine.
func (d *Detector) Close() error {
	return d.engine.Close()
}
