// Package mempool keeps size-classed buffer pools for the tensors built on
// every detector call.
package mempool

import (
	"sync"
)

const step = 1024

// sizedPool hands out slices whose capacity is rounded up to a size class so
// buffers for similar page renders can be shared.
type sizedPool[T any] struct {
	pools sync.Map // key: size class (int), value: *sync.Pool
}

// sizeClass rounds n up to the next multiple of step, with step as minimum.
func sizeClass(n int) int {
	if n <= step {
		return step
	}
	return ((n + step - 1) / step) * step
}

func (s *sizedPool[T]) pool(cls int) *sync.Pool {
	p, _ := s.pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return p.(*sync.Pool)
}

func (s *sizedPool[T]) get(n int) []T {
	cls := sizeClass(n)
	bufp := s.pool(cls).Get().(*[]T)
	buf := *bufp
	if cap(buf) < cls {
		buf = make([]T, cls)
	}
	return buf[:n]
}

func (s *sizedPool[T]) put(buf []T) {
	if buf == nil {
		return
	}
	// A buffer whose capacity is not itself a class belongs to the class below.
	c := cap(buf)
	cls := (c / step) * step
	if cls < step {
		return
	}
	full := buf[:cls]
	s.pool(cls).Put(&full)
}

var float32s sizedPool[float32]

// GetFloat32 returns a buffer of length n. Contents are not zeroed.
// Return it with PutFloat32 when done.
func GetFloat32(n int) []float32 {
	return float32s.get(n)
}

// PutFloat32 returns a buffer to the pool. Nil is ignored.
func PutFloat32(buf []float32) {
	float32s.put(buf)
}
