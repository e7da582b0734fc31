package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath overrides the ONNX Runtime shared library location.
const EnvLibraryPath = "DOCSTREAM_ONNX_LIBRARY"

// GPUConfig holds CUDA execution provider settings.
type GPUConfig struct {
	UseGPU              bool   // Enable the CUDA execution provider
	DeviceID            int    // CUDA device ID
	MemLimit            uint64 // GPU memory limit in bytes (0 = unlimited)
	ArenaExtendStrategy string // "kNextPowerOfTwo" or "kSameAsRequested"
	CUDNNConvAlgoSearch string // "EXHAUSTIVE", "HEURISTIC" or "DEFAULT"
}

// DefaultGPUConfig returns a CPU-only configuration.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaExtendStrategy: "kNextPowerOfTwo",
		CUDNNConvAlgoSearch: "DEFAULT",
	}
}

// Validate checks the GPU settings.
func (c GPUConfig) Validate() error {
	if !c.UseGPU {
		return nil
	}
	if c.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", c.DeviceID)
	}
	switch c.ArenaExtendStrategy {
	case "", "kNextPowerOfTwo", "kSameAsRequested":
	default:
		return fmt.Errorf("invalid arena extend strategy: %s", c.ArenaExtendStrategy)
	}
	switch c.CUDNNConvAlgoSearch {
	case "", "EXHAUSTIVE", "HEURISTIC", "DEFAULT":
	default:
		return fmt.Errorf("invalid CUDNN conv algo search: %s", c.CUDNNConvAlgoSearch)
	}
	return nil
}

var envMu sync.Mutex

// InitEnvironment points onnxruntime_go at the shared library and creates
// the process-wide runtime environment. It is safe to call repeatedly; only
// the first successful call has an effect. DestroyEnvironment tears it down
// at shutdown.
func InitEnvironment(libraryPath string, useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	path, err := ResolveLibraryPath(libraryPath, useGPU)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(path)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	slog.Debug("ONNX Runtime initialized", "library", path, "gpu", useGPU)
	return nil
}

// DestroyEnvironment releases the runtime environment if it was created.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !onnxruntime_go.IsInitialized() {
		return nil
	}
	return onnxruntime_go.DestroyEnvironment()
}

// ConfigureSessionForGPU appends the CUDA execution provider when requested.
func ConfigureSessionForGPU(opts *onnxruntime_go.SessionOptions, cfg GPUConfig) error {
	if !cfg.UseGPU {
		return nil
	}
	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if err := cudaOpts.Destroy(); err != nil {
			slog.Warn("Failed to destroy CUDA provider options", "error", err)
		}
	}()

	settings := map[string]string{"device_id": strconv.Itoa(cfg.DeviceID)}
	if cfg.MemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(cfg.MemLimit, 10)
	}
	if cfg.ArenaExtendStrategy != "" {
		settings["arena_extend_strategy"] = cfg.ArenaExtendStrategy
	}
	if cfg.CUDNNConvAlgoSearch != "" {
		settings["cudnn_conv_algo_search"] = cfg.CUDNNConvAlgoSearch
	}
	if err := cudaOpts.Update(settings); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}

// ResolveLibraryPath finds the ONNX Runtime shared library. The explicit
// path wins, then the environment override, then well-known system
// locations, then an onnxruntime/ directory under the project root.
func ResolveLibraryPath(explicit string, useGPU bool) (string, error) {
	for _, p := range []string{explicit, os.Getenv(EnvLibraryPath)} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("ONNX Runtime library not found at %s: %w", p, err)
		}
		return p, nil
	}

	libName, err := libraryName()
	if err != nil {
		return "", err
	}

	candidates := systemLibraryPaths(libName, useGPU)
	if root, err := findProjectRoot(); err == nil {
		if useGPU {
			candidates = append(candidates, filepath.Join(root, "onnxruntime", "gpu", "lib", libName))
		}
		candidates = append(candidates, filepath.Join(root, "onnxruntime", "lib", libName))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library %s not found (set %s)", libName, EnvLibraryPath)
}

func systemLibraryPaths(libName string, useGPU bool) []string {
	paths := []string{
		filepath.Join("/usr/local/lib", libName),
		filepath.Join("/usr/lib", libName),
		filepath.Join("/opt/onnxruntime/cpu/lib", libName),
	}
	if useGPU {
		paths = append([]string{filepath.Join("/opt/onnxruntime/gpu/lib", libName)}, paths...)
	}
	return paths
}

func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}
