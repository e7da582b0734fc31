// Package onnx holds the tensor type fed to the layout model and the ONNX
// Runtime environment setup shared by every inference session.
package onnx

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/docstream/internal/mempool"
)

// Tensor is a float32 tensor in row-major order; images use NCHW.
type Tensor struct {
	Data  []float32
	Shape []int64 // [N, C, H, W]

	pooled bool
}

// NewImageTensor wraps existing NCHW data of one image as [1, C, H, W].
func NewImageTensor(data []float32, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	if want := c * h * w; len(data) != want {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), want)
	}
	return Tensor{Data: data, Shape: []int64{1, int64(c), int64(h), int64(w)}}, nil
}

// NewPooledImageTensor allocates a [1, C, H, W] tensor from the buffer pool.
// Call Release once the tensor has been consumed.
func NewPooledImageTensor(c, h, w int) (Tensor, error) {
	if c <= 0 || h <= 0 || w <= 0 {
		return Tensor{}, fmt.Errorf("invalid tensor dimensions %dx%dx%d", c, h, w)
	}
	return Tensor{
		Data:   mempool.GetFloat32(c * h * w),
		Shape:  []int64{1, int64(c), int64(h), int64(w)},
		pooled: true,
	}, nil
}

// Release returns pooled backing storage. It is a no-op for tensors that
// wrap caller-owned data.
func (t *Tensor) Release() {
	if t.pooled {
		mempool.PutFloat32(t.Data)
		t.Data = nil
		t.pooled = false
	}
}

// ValidateNCHW ensures a shape is [N, C, H, W] with positive dimensions.
func ValidateNCHW(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// VerifyImageTensor checks data length matches the NCHW shape.
func VerifyImageTensor(t Tensor) error {
	if err := ValidateNCHW(t.Shape); err != nil {
		return err
	}
	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	if expected := int(n * c * h * w); len(t.Data) != expected {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), expected, t.Shape)
	}
	return nil
}
