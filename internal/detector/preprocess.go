package detector

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/MeKo-Tech/docstream/internal/coords"
	"github.com/MeKo-Tech/docstream/internal/onnx"
)

// padGray is the letterbox fill value used by YOLO-family models.
const padGray = 114

// PreprocessError reports which preprocessing step failed.
type PreprocessError struct {
	Operation string
	Err       error
}

func (e *PreprocessError) Error() string {
	return fmt.Sprintf("preprocess error in %s: %v", e.Operation, e.Err)
}

func (e *PreprocessError) Unwrap() error { return e.Err }

// Preprocess decodes a page image and turns it into a normalized
// [1,3,S,S] tensor. The returned tensor is pooled; release it after use.
func Preprocess(pageImage []byte, cfg Config) (onnx.Tensor, coords.Letterbox, error) {
	if len(pageImage) == 0 {
		return onnx.Tensor{}, coords.Letterbox{}, &PreprocessError{Operation: "decode", Err: errors.New("empty image")}
	}
	img, _, err := image.Decode(bytes.NewReader(pageImage))
	if err != nil {
		return onnx.Tensor{}, coords.Letterbox{}, &PreprocessError{Operation: "decode", Err: err}
	}
	return PreprocessImage(img, cfg)
}

// PreprocessImage is Preprocess for an already decoded image.
func PreprocessImage(img image.Image, cfg Config) (onnx.Tensor, coords.Letterbox, error) {
	if img == nil {
		return onnx.Tensor{}, coords.Letterbox{}, &PreprocessError{Operation: "decode", Err: errors.New("nil image")}
	}
	b := img.Bounds()
	lb, err := coords.NewLetterbox(b.Dx(), b.Dy(), cfg.InputSize)
	if err != nil {
		return onnx.Tensor{}, coords.Letterbox{}, &PreprocessError{Operation: "letterbox", Err: err}
	}

	canvas := letterbox(img, lb)

	tensor, err := onnx.NewPooledImageTensor(3, lb.Size, lb.Size)
	if err != nil {
		return onnx.Tensor{}, coords.Letterbox{}, &PreprocessError{Operation: "tensor", Err: err}
	}
	normalize(canvas, tensor.Data, cfg.Mean, cfg.Std)
	return tensor, lb, nil
}

// letterbox resizes img preserving aspect ratio and pastes it centered on a
// gray square canvas.
func letterbox(img image.Image, lb coords.Letterbox) *image.NRGBA {
	resized := imaging.Resize(img, lb.ResizedWidth, lb.ResizedHeight, imaging.Lanczos)
	canvas := imaging.New(lb.Size, lb.Size, color.NRGBA{R: padGray, G: padGray, B: padGray, A: 255})
	return imaging.Paste(canvas, resized, image.Pt(int(lb.PadX), int(lb.PadY)))
}

// normalize writes canvas pixels into dst in CHW order.
func normalize(canvas *image.NRGBA, dst []float32, mean, std [3]float32) {
	w, h := canvas.Rect.Dx(), canvas.Rect.Dy()
	plane := w * h
	for y := range h {
		row := canvas.Pix[y*canvas.Stride:]
		for x := range w {
			i := x * 4
			idx := y*w + x
			dst[idx] = (float32(row[i])/255 - mean[0]) / std[0]
			dst[plane+idx] = (float32(row[i+1])/255 - mean[1]) / std[1]
			dst[2*plane+idx] = (float32(row[i+2])/255 - mean[2]) / std[2]
		}
	}
}
