package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Rasterizer renders one page of a PDF file to PNG bytes.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string, pageNum, dpi int) ([]byte, error)
}

// Pdftoppm rasterizes pages with poppler's pdftoppm.
type Pdftoppm struct {
	binary string
}

// NewPdftoppm creates a rasterizer. An empty binary resolves pdftoppm on PATH.
func NewPdftoppm(binary string) *Pdftoppm {
	if binary == "" {
		binary = "pdftoppm"
	}
	return &Pdftoppm{binary: binary}
}

// Available reports whether the pdftoppm binary can be found.
func (p *Pdftoppm) Available() bool {
	_, err := exec.LookPath(p.binary)
	return err == nil
}

// Rasterize renders pageNum at dpi.
func (p *Pdftoppm) Rasterize(ctx context.Context, pdfPath string, pageNum, dpi int) ([]byte, error) {
	if dpi <= 0 {
		return nil, fmt.Errorf("invalid dpi %d", dpi)
	}
	outDir, err := os.MkdirTemp("", "docstream-render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create render directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(outDir) }()

	root := filepath.Join(outDir, "page")
	page := strconv.Itoa(pageNum)
	//nolint:gosec // G204: binary is configured by the operator
	cmd := exec.CommandContext(ctx, p.binary,
		"-png", "-r", strconv.Itoa(dpi), "-f", page, "-l", page, "-singlefile",
		pdfPath, root)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", pageNum, err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(root + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm produced no output for page %d: %w", pageNum, err)
	}
	return data, nil
}
