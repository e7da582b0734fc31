// Package document defines the records produced by the extraction pipeline:
// the content-addressed document handle, per-page records with words,
// regions and links, and the finalized cache entry.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/MeKo-Tech/docstream/internal/geometry"
)

// Handle identifies a document by the sha256 digest of its raw bytes.
type Handle struct {
	Hash string `json:"hash"`
}

// HashBytes returns the lowercase hex sha256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewHandle derives the handle for raw document bytes.
func NewHandle(data []byte) Handle {
	return Handle{Hash: HashBytes(data)}
}

// Tier names the text-extraction stage that produced a page's text.
type Tier string

const (
	TierNative     Tier = "native"
	TierCloudOCR   Tier = "cloud_ocr"
	TierGenerative Tier = "generative"
	TierNone       Tier = "none"
)

// Phase is the processing state of a page record.
type Phase string

const (
	PhasePending Phase = "pending"
	Phase1       Phase = "phase1"
	Phase2       Phase = "phase2"
	PhaseFinal   Phase = "final"
)

// Rank orders phases; records only ever move to a higher rank.
func (p Phase) Rank() int {
	switch p {
	case Phase1:
		return 1
	case Phase2:
		return 2
	case PhaseFinal:
		return 3
	default:
		return 0
	}
}

// Label classifies a region.
type Label string

const (
	LabelFigure   Label = "figure"
	LabelTable    Label = "table"
	LabelEquation Label = "equation"
	LabelOther    Label = "other"
)

// ParseLabel maps free-form model class names onto a Label.
func ParseLabel(s string) Label {
	switch s {
	case "figure", "picture", "image", "chart":
		return LabelFigure
	case "table":
		return LabelTable
	case "equation", "formula", "isolate_formula", "isolated_formula":
		return LabelEquation
	default:
		return LabelOther
	}
}

// Visual reports whether the label denotes visual content that is cropped as a region.
func (l Label) Visual() bool {
	return l == LabelFigure || l == LabelTable || l == LabelEquation
}

// Source names where a region candidate came from.
type Source string

const (
	SourceModel         Source = "model"
	SourceEmbeddedImage Source = "embedded_image"
	SourceMathFont      Source = "math_font"
	SourceWhitespace    Source = "whitespace"
)

// Word is a unit of extracted text with its box.
type Word struct {
	Text string       `json:"text"`
	BBox geometry.Box `json:"bbox"`
}

// Link is a hyperlink annotation on a page.
type Link struct {
	URI  string       `json:"uri,omitempty"`
	Dest string       `json:"dest,omitempty"`
	BBox geometry.Box `json:"bbox"`
}

// Region is a detected visual sub-area of a page. Explanation is attached
// later by an asynchronous job and is absent when the region is created.
type Region struct {
	ID            string       `json:"id"`
	Label         Label        `json:"label"`
	BBox          geometry.Box `json:"bbox"`
	ImageURL      string       `json:"image_url,omitempty"`
	Confidence    float64      `json:"confidence"`
	Source        Source       `json:"source"`
	Transcription string       `json:"transcription,omitempty"`
	Explanation   string       `json:"explanation,omitempty"`
}

// Page is the record for one page. It is filled in monotonically across
// the three processing phases.
type Page struct {
	PageNumber    int      `json:"page_number"`
	TotalPages    int      `json:"total_pages"`
	Phase         Phase    `json:"phase"`
	Tier          Tier     `json:"tier"`
	Words         []Word   `json:"words"`
	Text          string   `json:"text"`
	Unextractable bool     `json:"unextractable,omitempty"`
	Regions       []Region `json:"regions"`
	Links         []Link   `json:"links"`
	RenderWidth   int      `json:"render_width,omitempty"`
	RenderHeight  int      `json:"render_height,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
	RenderFailed  bool     `json:"render_failed,omitempty"`
}

// Clone returns a deep copy so emitted snapshots are never aliased by the
// page worker that keeps refining the record.
func (p Page) Clone() Page {
	out := p
	out.Words = append([]Word(nil), p.Words...)
	out.Regions = append([]Region(nil), p.Regions...)
	out.Links = append([]Link(nil), p.Links...)
	if out.Words == nil {
		out.Words = []Word{}
	}
	if out.Regions == nil {
		out.Regions = []Region{}
	}
	if out.Links == nil {
		out.Links = []Link{}
	}
	return out
}

// Entry is the finalized, cached result for one document.
type Entry struct {
	Hash      string    `json:"hash"`
	FullText  string    `json:"full_text"`
	Pages     []Page    `json:"pages"`
	ImageURLs []string  `json:"image_urls"`
	CreatedAt time.Time `json:"created_at"`
}

// Region looks up a region by ID across all pages.
func (e *Entry) Region(id string) (*Region, int, bool) {
	for pi := range e.Pages {
		for ri := range e.Pages[pi].Regions {
			if e.Pages[pi].Regions[ri].ID == id {
				return &e.Pages[pi].Regions[ri], e.Pages[pi].PageNumber, true
			}
		}
	}
	return nil, 0, false
}
