// Package tensor provides an immutable, shape-checked byte buffer over the
// quantized encodings used by shards (FP16, FP8, INT8, INT4).
//
// Buffers are little-endian and row-major. INT4 elements are packed two per
// byte, low nibble first; an odd element count leaves the final high nibble
// unused.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrShapeMismatch        = errors.New("tensor: shape mismatch")
	ErrElementCountMismatch = errors.New("tensor: element count mismatch")
	ErrUnsupportedCast      = errors.New("tensor: unsupported cast")
)

// Tensor is an immutable typed buffer. The zero value is not usable; build
// tensors with New.
type Tensor struct {
	shape []int
	dtype DType
	n     int
	data  []byte
}

// New validates shape, dtype and buffer length and returns a Tensor owning a
// private copy of data.
func New(shape []int, dtype DType, data []byte) (*Tensor, error) {
	n, err := ElementCount(shape)
	if err != nil {
		return nil, err
	}
	want, ok := dtype.ByteLen(n)
	if !ok {
		return nil, fmt.Errorf("%w: dtype %s cannot hold %d elements", ErrShapeMismatch, dtype, n)
	}
	if len(data) != want {
		return nil, fmt.Errorf("%w: shape %v as %s needs %d bytes, got %d", ErrShapeMismatch, shape, dtype, want, len(data))
	}
	return &Tensor{
		shape: append([]int(nil), shape...),
		dtype: dtype,
		n:     n,
		data:  append([]byte(nil), data...),
	}, nil
}

// Zeros returns a zero-filled tensor of the given shape.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	n, err := ElementCount(shape)
	if err != nil {
		return nil, err
	}
	size, ok := dtype.ByteLen(n)
	if !ok {
		return nil, fmt.Errorf("%w: dtype %s cannot hold %d elements", ErrShapeMismatch, dtype, n)
	}
	return &Tensor{shape: append([]int(nil), shape...), dtype: dtype, n: n, data: make([]byte, size)}, nil
}

// ElementCount returns the product of shape. Every dimension must be
// positive and the product must fit in an int.
func ElementCount(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShapeMismatch)
	}
	n := 1
	for i, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: dimension %d is %d", ErrShapeMismatch, i, d)
		}
		if n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape %v overflows", ErrShapeMismatch, shape)
		}
		n *= d
	}
	return n, nil
}

func (t *Tensor) DType() DType { return t.dtype }

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Len returns the number of elements.
func (t *Tensor) Len() int { return t.n }

// ByteLen returns the length of the underlying buffer.
func (t *Tensor) ByteLen() int { return len(t.data) }

// Bytes returns a copy of the buffer.
func (t *Tensor) Bytes() []byte { return append([]byte(nil), t.data...) }

// Spec describes the tensor's shape and dtype.
func (t *Tensor) Spec() Spec { return Spec{Shape: t.Shape(), DType: t.dtype} }

// Equal reports whether two tensors have identical shape, dtype and bytes.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.dtype != o.dtype || !sameShape(t.shape, o.shape) || len(t.data) != len(o.data) {
		return false
	}
	for i := range t.data {
		if t.data[i] != o.data[i] {
			return false
		}
	}
	return true
}

// Reshape returns a tensor with the same elements viewed through newShape.
// Tensors are contiguous, so the buffer is shared rather than copied; since
// neither tensor can be mutated the sharing is not observable.
func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	n, err := ElementCount(newShape)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrElementCountMismatch, err)
	}
	if n != t.n {
		return nil, fmt.Errorf("%w: %v has %d elements, %v has %d", ErrElementCountMismatch, t.shape, t.n, newShape, n)
	}
	return &Tensor{shape: append([]int(nil), newShape...), dtype: t.dtype, n: n, data: t.data}, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor(%s%v, %dB)", t.dtype, t.shape, len(t.data))
}

// Spec is the expected shape and dtype of a tensor.
type Spec struct {
	Shape []int `json:"shape" yaml:"shape"`
	DType DType `json:"dtype" yaml:"dtype"`
}

// Matches reports whether t has exactly this shape and dtype.
func (s Spec) Matches(t *Tensor) bool {
	return t != nil && t.dtype == s.DType && sameShape(t.shape, s.Shape)
}

func (s Spec) String() string { return fmt.Sprintf("%s%v", s.DType, s.Shape) }

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
