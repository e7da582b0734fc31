// Package pdf gives page-level access to PDF documents: the native text
// layer, link annotations and image placements through dslipak/pdf,
// validation and decryption through pdfcpu, and rasterization through
// poppler's pdftoppm.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dslipak/pdf"
)

// Options configures how documents are opened.
type Options struct {
	Credentials Credentials
	TempDir     string // Directory for working copies (default: os.TempDir())
	Rasterizer  Rasterizer
}

// Opener opens raw PDF bytes as a Document.
type Opener struct {
	opts Options
}

// NewOpener creates an opener. A nil rasterizer selects pdftoppm.
func NewOpener(opts Options) *Opener {
	if opts.Rasterizer == nil {
		opts.Rasterizer = NewPdftoppm("")
	}
	return &Opener{opts: opts}
}

// Document is an opened PDF. Methods are safe for concurrent use.
type Document struct {
	reader     *pdf.Reader
	path       string // working copy handed to the rasterizer
	workDir    string
	numPages   int
	rasterizer Rasterizer
	mu         sync.Mutex
}

// Open validates data, decrypts it when needed and parses the page tree.
// The returned Document owns a temporary working copy; call Close.
func (o *Opener) Open(ctx context.Context, data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp(o.opts.TempDir, "docstream-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	doc, err := o.open(workDir, data)
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, err
	}
	return doc, nil
}

func (o *Opener) open(workDir string, data []byte) (*Document, error) {
	path := filepath.Join(workDir, "source.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write working copy: %w", err)
	}

	encrypted, err := IsEncrypted(path)
	switch {
	case err != nil:
		// pdfcpu is stricter than the parser below; let dslipak decide.
		slog.Debug("pdfcpu validation failed", "error", err)
	case encrypted:
		if o.opts.Credentials.Empty() {
			return nil, ErrPassword
		}
		decrypted := filepath.Join(workDir, "decrypted.pdf")
		if err := decrypt(path, decrypted, o.opts.Credentials); err != nil {
			return nil, err
		}
		path = decrypted
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read decrypted copy: %w", err)
		}
	}

	reader, err := newReader(data)
	if err != nil {
		return nil, err
	}
	n := reader.NumPage()
	if n <= 0 {
		return nil, errors.New("document has no pages")
	}
	return &Document{
		reader:     reader,
		path:       path,
		workDir:    workDir,
		numPages:   n,
		rasterizer: o.opts.Rasterizer,
	}, nil
}

func newReader(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	r, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}
	return r, nil
}

// NumPages returns the page count.
func (d *Document) NumPages() int {
	return d.numPages
}

// Path returns the working copy location.
func (d *Document) Path() string {
	return d.path
}

// Render rasterizes one page to PNG.
func (d *Document) Render(ctx context.Context, pageNum, dpi int) ([]byte, error) {
	if err := d.checkPage(pageNum); err != nil {
		return nil, err
	}
	return d.rasterizer.Rasterize(ctx, d.path, pageNum, dpi)
}

// Close removes the working copy.
func (d *Document) Close() error {
	return os.RemoveAll(d.workDir)
}

func (d *Document) checkPage(pageNum int) error {
	if pageNum < 1 || pageNum > d.numPages {
		return fmt.Errorf("page %d out of range [1,%d]", pageNum, d.numPages)
	}
	return nil
}

// page runs fn against a parsed page. The parser panics on malformed
// content streams; that is turned into an error.
func (d *Document) page(pageNum int, fn func(p pdf.Page) error) (err error) {
	if err := d.checkPage(pageNum); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("page %d: malformed content: %v", pageNum, p)
		}
	}()
	p := d.reader.Page(pageNum)
	if p.V.IsNull() {
		return fmt.Errorf("page %d is null", pageNum)
	}
	return fn(p)
}
