package textchain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docstream/internal/coords"
	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
	"github.com/MeKo-Tech/docstream/internal/ocr"
)

type outcome int

const (
	outcomeOK outcome = iota
	outcomeEmpty
	outcomeError
	outcomeUnavailable
	outcomeMissing
)

func (o outcome) String() string {
	return [...]string{"ok", "empty", "error", "unavailable", "missing"}[o]
}

type fakeNative struct {
	outcome outcome
	calls   int
}

func (f *fakeNative) Glyphs(int) ([]document.Glyph, error) {
	f.calls++
	switch f.outcome {
	case outcomeOK:
		return glyphs("Hello", 72, 100, 12), nil
	case outcomeError:
		return nil, errors.New("no text layer")
	default:
		return nil, nil
	}
}

type fakeOCR struct {
	outcome outcome
	calls   int
}

func (f *fakeOCR) Available(context.Context) bool { return f.outcome != outcomeUnavailable }

func (f *fakeOCR) DetectText(context.Context, []byte) (ocr.Result, error) {
	f.calls++
	switch f.outcome {
	case outcomeOK:
		return ocr.Result{Text: "scan", Words: []document.Word{
			{Text: "scan", BBox: geometry.NewBox(10, 10, 60, 30, geometry.Pixel)},
		}}, nil
	case outcomeError:
		return ocr.Result{}, errors.New("quota exceeded")
	default:
		return ocr.Result{}, nil
	}
}

type fakeAI struct {
	outcome outcome
	calls   int
	prompt  string
}

func (f *fakeAI) GenerateText(context.Context, string) (string, error) {
	return "", errors.New("unused")
}

func (f *fakeAI) GenerateFromImage(_ context.Context, prompt string, _ []byte, _ string) (string, error) {
	f.calls++
	f.prompt = prompt
	switch f.outcome {
	case outcomeOK:
		return "  generated\n\n text ", nil
	case outcomeError:
		return "", errors.New("model overloaded")
	default:
		return "   ", nil
	}
}

func glyphs(text string, x, y, size float64) []document.Glyph {
	out := make([]document.Glyph, 0, len(text))
	adv := size * 0.6
	for i, r := range text {
		x0 := x + float64(i)*adv
		out = append(out, document.Glyph{
			Text:     string(r),
			Font:     "Helvetica",
			FontSize: size,
			BBox:     geometry.NewBox(x0, y, x0+adv, y+size, geometry.Document),
		})
	}
	return out
}

func testRender() coords.Render {
	r, _ := coords.NewRender(612, 792, 1700, 2200)
	return r
}

// Every combination of tier outcomes ends in exactly one tier, and no tier
// runs after an earlier one succeeded.
func TestExtractTotality(t *testing.T) {
	natives := []outcome{outcomeOK, outcomeEmpty, outcomeError}
	ocrs := []outcome{outcomeOK, outcomeEmpty, outcomeError, outcomeUnavailable, outcomeMissing}
	ais := []outcome{outcomeOK, outcomeEmpty, outcomeError, outcomeMissing}

	for _, n := range natives {
		for _, o := range ocrs {
			for _, a := range ais {
				t.Run(fmt.Sprintf("native=%s/ocr=%s/ai=%s", n, o, a), func(t *testing.T) {
					native := &fakeNative{outcome: n}
					ocrSvc := &fakeOCR{outcome: o}
					aiSvc := &fakeAI{outcome: a}

					var chain *Chain
					switch {
					case o == outcomeMissing && a == outcomeMissing:
						chain = New(nil, nil, Options{})
					case o == outcomeMissing:
						chain = New(nil, aiSvc, Options{})
					case a == outcomeMissing:
						chain = New(ocrSvc, nil, Options{})
					default:
						chain = New(ocrSvc, aiSvc, Options{})
					}

					res := chain.Extract(context.Background(), Input{
						Page: 1, Native: native, Image: []byte("png"), Render: testRender(),
					})

					assert.Equal(t, 1, native.calls)
					switch {
					case n == outcomeOK:
						assert.Equal(t, document.TierNative, res.Tier)
						assert.Equal(t, "Hello", res.Text)
						assert.Zero(t, ocrSvc.calls)
						assert.Zero(t, aiSvc.calls)
					case o == outcomeOK:
						assert.Equal(t, document.TierCloudOCR, res.Tier)
						assert.Equal(t, "scan", res.Text)
						assert.Equal(t, 1, ocrSvc.calls)
						assert.Zero(t, aiSvc.calls)
					case a == outcomeOK:
						assert.Equal(t, document.TierGenerative, res.Tier)
						assert.Equal(t, "generated\ntext", res.Text)
						assert.Empty(t, res.Words)
						assert.Equal(t, 1, aiSvc.calls)
					default:
						assert.Equal(t, document.TierNone, res.Tier)
						assert.True(t, res.Unextractable)
						assert.Empty(t, res.Words)
						assert.Empty(t, res.Text)
					}
					if o == outcomeUnavailable {
						assert.Zero(t, ocrSvc.calls)
					}
					assert.Equal(t, res.Unextractable, !res.OK())
				})
			}
		}
	}
}

func TestNativeWordsInDocumentSpace(t *testing.T) {
	chain := New(nil, nil, Options{})
	res := chain.Native(context.Background(), &fakeNative{outcome: outcomeOK}, 1)
	require.True(t, res.OK())
	require.Len(t, res.Words, 1)
	assert.Equal(t, geometry.Document, res.Words[0].BBox.Space)
	assert.InDelta(t, 72, res.Words[0].BBox.MinX, 1e-9)
}

func TestFallbackClampsOCRWords(t *testing.T) {
	svc := &stubOCR{words: []document.Word{
		{Text: "edge", BBox: geometry.NewBox(1650, 2150, 1800, 2300, geometry.Pixel)},
		{Text: "\u200b", BBox: geometry.NewBox(0, 0, 10, 10, geometry.Pixel)},
	}}
	res := New(svc, nil, Options{}).Fallback(context.Background(), []byte("png"), testRender())

	require.Equal(t, document.TierCloudOCR, res.Tier)
	require.Len(t, res.Words, 1)
	assert.Equal(t, geometry.NewBox(1650, 2150, 1700, 2200, geometry.Pixel), res.Words[0].BBox)
}

func TestFallbackUsesInstruction(t *testing.T) {
	aiSvc := &fakeAI{outcome: outcomeOK}
	New(nil, aiSvc, Options{Instruction: "read it"}).Fallback(context.Background(), []byte("png"), testRender())
	assert.Equal(t, "read it", aiSvc.prompt)

	aiSvc = &fakeAI{outcome: outcomeOK}
	New(nil, aiSvc, Options{}).Fallback(context.Background(), []byte("png"), testRender())
	assert.Equal(t, DefaultInstruction, aiSvc.prompt)
}

func TestFallbackWithoutImage(t *testing.T) {
	aiSvc := &fakeAI{outcome: outcomeOK}
	res := New(nil, aiSvc, Options{}).Fallback(context.Background(), nil, testRender())
	assert.True(t, res.Unextractable)
	assert.Zero(t, aiSvc.calls)
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ocrSvc := &fakeOCR{outcome: outcomeOK}
	aiSvc := &fakeAI{outcome: outcomeOK}
	res := New(ocrSvc, aiSvc, Options{}).Extract(ctx, Input{Native: &fakeNative{}, Image: []byte("png")})
	assert.True(t, res.Unextractable)
	assert.Zero(t, ocrSvc.calls+aiSvc.calls)
}

type stubOCR struct{ words []document.Word }

func (s *stubOCR) Available(context.Context) bool { return true }

func (s *stubOCR) DetectText(context.Context, []byte) (ocr.Result, error) {
	return ocr.Result{Words: s.words}, nil
}
