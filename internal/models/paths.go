// Package models resolves on-disk locations of the ONNX models used by
// docstream.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names.
const (
	// LayoutDocLayoutYOLO is the default document layout detector.
	LayoutDocLayoutYOLO = "doclayout_yolo.onnx"
)

// Model type directories.
const (
	TypeLayout = "layout"
)

// DefaultModelsDir is the models directory below the project root.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "DOCSTREAM_MODELS_DIR"

// ModelInfo contains metadata about a model.
type ModelInfo struct {
	Name        string
	Type        string
	Description string
	Filename    string
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. environment variable, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath resolves a model filename inside its type directory,
// falling back to a flat layout when the organized path does not exist.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	baseDir := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(baseDir, filename)
}

// GetLayoutModelPath returns the path of a layout model. An empty filename
// selects the default layout model.
func GetLayoutModelPath(modelsDir, filename string) string {
	if filename == "" {
		filename = LayoutDocLayoutYOLO
	}
	return ResolveModelPath(modelsDir, TypeLayout, filename)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	info, err := os.Stat(modelPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	if err != nil {
		return fmt.Errorf("cannot access model file %s: %w", modelPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("model path is a directory: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns the models docstream knows about.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "doclayout-yolo",
			Type:        TypeLayout,
			Description: "DocLayout-YOLO page layout detector (figure, table, formula)",
			Filename:    LayoutDocLayoutYOLO,
		},
	}
}
