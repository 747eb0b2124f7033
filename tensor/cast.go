package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Cast converts t to target. Only exact (widening) conversions are
// supported; narrowing casts need a quantization kernel and fail with
// ErrUnsupportedCast.
//
//	identity        shares the buffer
//	int4 -> int8    sign-extended unpack
//	int4 -> fp16
//	int8 -> fp16
//	fp8  -> fp16    E4M3, NaN preserved
func Cast(t *Tensor, target DType) (*Tensor, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: invalid target dtype", ErrUnsupportedCast)
	}
	if t.dtype == target {
		return &Tensor{shape: append([]int(nil), t.shape...), dtype: t.dtype, n: t.n, data: t.data}, nil
	}

	var out []byte
	switch {
	case t.dtype == INT4 && target == INT8:
		out = make([]byte, t.n)
		for i := 0; i < t.n; i++ {
			out[i] = byte(int4At(t.data, i))
		}
	case t.dtype == INT4 && target == FP16:
		out = make([]byte, 2*t.n)
		for i := 0; i < t.n; i++ {
			putFP16(out, i, float32(int4At(t.data, i)))
		}
	case t.dtype == INT8 && target == FP16:
		out = make([]byte, 2*t.n)
		for i := 0; i < t.n; i++ {
			putFP16(out, i, float32(int8(t.data[i])))
		}
	case t.dtype == FP8 && target == FP16:
		out = make([]byte, 2*t.n)
		for i := 0; i < t.n; i++ {
			b := t.data[i]
			if isE4M3NaN(b) {
				binary.LittleEndian.PutUint16(out[2*i:], float16.NaN().Bits())
				continue
			}
			putFP16(out, i, e4m3ToFloat32(b))
		}
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrUnsupportedCast, t.dtype, target)
	}
	return &Tensor{shape: append([]int(nil), t.shape...), dtype: target, n: t.n, data: out}, nil
}

// int4At returns the signed value of packed element i.
func int4At(data []byte, i int) int8 {
	nib := data[i/2]
	if i%2 == 1 {
		nib >>= 4
	}
	return int8(nib<<4) >> 4
}

func putFP16(dst []byte, i int, v float32) {
	binary.LittleEndian.PutUint16(dst[2*i:], float16.Fromfloat32(v).Bits())
}

func isE4M3NaN(b byte) bool { return b&0x7f == 0x7f }

// e4m3ToFloat32 decodes an OCP FP8 E4M3 value (bias 7, no infinities).
func e4m3ToFloat32(b byte) float32 {
	exp := int(b>>3) & 0xf
	mant := float64(b & 0x7)
	var v float64
	if exp == 0 {
		v = math.Ldexp(mant/8, -6)
	} else {
		v = math.Ldexp(1+mant/8, exp-7)
	}
	if b&0x80 != 0 {
		v = -v
	}
	return float32(v)
}
