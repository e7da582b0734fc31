package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/semaphore"

	"github.com/MeKo-Tech/docstream/internal/models"
	"github.com/MeKo-Tech/docstream/internal/onnx"
)

// Engine runs the layout model on a preprocessed tensor and returns the raw
// output data with its shape.
type Engine interface {
	Run(ctx context.Context, input onnx.Tensor) ([]float32, []int64, error)
	Close() error
}

// ONNXEngine is an Engine backed by an ONNX Runtime session. It is safe for
// concurrent use; at most MaxConcurrent runs execute at once.
type ONNXEngine struct {
	session *onnxruntime_go.DynamicAdvancedSession
	sem     *semaphore.Weighted
	mu      sync.RWMutex
}

// NewONNXEngine loads the model at cfg.ModelPath.
func NewONNXEngine(cfg Config) (*ONNXEngine, error) {
	if err := models.ValidateModelExists(cfg.ModelPath); err != nil {
		return nil, err
	}
	if err := onnx.InitEnvironment(cfg.LibraryPath, cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputName, outputName, err := resolveIONames(cfg)
	if err != nil {
		return nil, err
	}

	session, err := createSession(cfg, inputName, outputName)
	if err != nil {
		return nil, err
	}

	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	slog.Debug("Layout model loaded",
		"model_path", cfg.ModelPath,
		"input", inputName,
		"output", outputName,
		"gpu_enabled", cfg.GPU.UseGPU,
		"max_concurrent", limit)

	return &ONNXEngine{session: session, sem: semaphore.NewWeighted(limit)}, nil
}

// resolveIONames prefers the names found in the model file over configured ones.
func resolveIONames(cfg Config) (string, string, error) {
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to read model info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return "", "", fmt.Errorf("unexpected model signature: %d inputs, %d outputs", len(inputs), len(outputs))
	}
	in, out := inputs[0].Name, outputs[0].Name
	if in == "" {
		in = cfg.InputName
	}
	if out == "" {
		out = cfg.OutputName
	}
	return in, out, nil
}

func createSession(cfg Config, inputName, outputName string) (*onnxruntime_go.DynamicAdvancedSession, error) {
	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()

	if err := onnx.ConfigureSessionForGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{inputName}, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}

// Run executes one inference.
func (e *ONNXEngine) Run(ctx context.Context, input onnx.Tensor) ([]float32, []int64, error) {
	if err := onnx.VerifyImageTensor(input); err != nil {
		return nil, nil, fmt.Errorf("invalid tensor: %w", err)
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	defer e.sem.Release(1)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.session == nil {
		return nil, nil, errors.New("layout model session is closed")
	}

	in, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := in.Destroy(); err != nil {
			slog.Warn("Failed to destroy input tensor", "error", err)
		}
	}()

	outputs := []onnxruntime_go.Value{nil}
	if err := e.session.Run([]onnxruntime_go.Value{in}, outputs); err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if err := outputs[0].Destroy(); err != nil {
			slog.Warn("Failed to destroy output tensor", "error", err)
		}
	}()

	ft, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("expected float32 tensor, got %T", outputs[0])
	}
	// The tensor memory is freed on Destroy, so copy out.
	data := append([]float32(nil), ft.GetData()...)
	shape := append([]int64(nil), ft.GetShape()...)
	return data, shape, nil
}

// Close releases the session. The runtime environment stays up for other
// sessions and is torn down by onnx.DestroyEnvironment at shutdown.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
