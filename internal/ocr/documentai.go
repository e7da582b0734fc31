package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
)

// DocumentAIConfig selects the Document AI OCR processor.
type DocumentAIConfig struct {
	ProjectID   string `mapstructure:"project_id" yaml:"project_id" json:"project_id"`
	Location    string `mapstructure:"location" yaml:"location" json:"location"`
	ProcessorID string `mapstructure:"processor_id" yaml:"processor_id" json:"processor_id"`
}

// Enabled reports whether enough is configured to create a client.
func (c DocumentAIConfig) Enabled() bool {
	return c.ProjectID != "" && c.ProcessorID != ""
}

func (c DocumentAIConfig) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.location(), c.ProcessorID)
}

func (c DocumentAIConfig) location() string {
	if c.Location == "" {
		return "us"
	}
	return c.Location
}

// processor is the subset of the Document AI client used here.
type processor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
}

// DocumentAI runs Google Document AI OCR.
type DocumentAI struct {
	client processor
	closer func() error
	name   string
}

// NewDocumentAI creates a client for the configured processor using
// application default credentials.
func NewDocumentAI(ctx context.Context, cfg DocumentAIConfig) (*DocumentAI, error) {
	if !cfg.Enabled() {
		return nil, ErrUnavailable
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.location())
	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create Document AI client: %w", err)
	}
	return &DocumentAI{client: client, closer: client.Close, name: cfg.processorName()}, nil
}

// Available reports whether a client is configured.
func (d *DocumentAI) Available(context.Context) bool {
	return d != nil && d.client != nil
}

// DetectText sends the image to the processor and maps tokens of the first
// page to pixel boxes.
func (d *DocumentAI) DetectText(ctx context.Context, img []byte) (Result, error) {
	if !d.Available(ctx) {
		return Result{}, ErrUnavailable
	}
	resp, err := d.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: d.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: img, MimeType: http.DetectContentType(img)},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("document ai process: %w", err)
	}
	doc := resp.GetDocument()
	if doc == nil {
		return Result{}, errors.New("document ai returned no document")
	}

	width, height := imageSize(img)
	return fromDocument(doc, width, height), nil
}

// Close releases the client connection.
func (d *DocumentAI) Close() error {
	if d == nil || d.closer == nil {
		return nil
	}
	return d.closer()
}

func imageSize(img []byte) (float64, float64) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		slog.Debug("Cannot decode image size for OCR boxes", "error", err)
		return 0, 0
	}
	return float64(cfg.Width), float64(cfg.Height)
}

// fromDocument converts the first page's tokens into words. Normalized
// vertices are scaled by the image size; absolute vertices are used as is.
func fromDocument(doc *documentaipb.Document, width, height float64) Result {
	res := Result{Text: strings.TrimSpace(doc.GetText()), Words: []document.Word{}}
	pages := doc.GetPages()
	if len(pages) == 0 {
		return res
	}
	page := pages[0]
	if width == 0 || height == 0 {
		if dim := page.GetDimension(); dim != nil {
			width, height = float64(dim.GetWidth()), float64(dim.GetHeight())
		}
	}

	for _, tok := range page.GetTokens() {
		layout := tok.GetLayout()
		text := strings.TrimSpace(anchorText(doc.GetText(), layout.GetTextAnchor()))
		if text == "" {
			continue
		}
		box, ok := polyBox(layout.GetBoundingPoly(), width, height)
		if !ok {
			continue
		}
		res.Words = append(res.Words, document.Word{Text: text, BBox: box})
	}
	return res
}

func anchorText(full string, anchor *documentaipb.Document_TextAnchor) string {
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := int(seg.GetStartIndex()), int(seg.GetEndIndex())
		if start < 0 || end > len(full) || start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func polyBox(poly *documentaipb.BoundingPoly, width, height float64) (geometry.Box, bool) {
	var xs, ys []float64
	if nv := poly.GetNormalizedVertices(); len(nv) > 0 && width > 0 && height > 0 {
		for _, v := range nv {
			xs = append(xs, float64(v.GetX())*width)
			ys = append(ys, float64(v.GetY())*height)
		}
	} else {
		for _, v := range poly.GetVertices() {
			xs = append(xs, float64(v.GetX()))
			ys = append(ys, float64(v.GetY()))
		}
	}
	if len(xs) == 0 {
		return geometry.Box{}, false
	}
	return geometry.NewBox(slices.Min(xs), slices.Min(ys), slices.Max(xs), slices.Max(ys), geometry.Pixel), true
}
