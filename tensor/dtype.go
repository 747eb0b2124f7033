package tensor

import (
	"fmt"
	"math"
	"strings"
)

// DType is the element encoding of a tensor buffer.
type DType uint8

const (
	DTypeInvalid DType = iota
	FP16
	FP8
	INT8
	INT4
)

// DTypes lists every supported encoding.
var DTypes = []DType{FP16, FP8, INT8, INT4}

func (d DType) String() string {
	switch d {
	case FP16:
		return "fp16"
	case FP8:
		return "fp8"
	case INT8:
		return "int8"
	case INT4:
		return "int4"
	default:
		return "invalid"
	}
}

// Valid reports whether d is a supported encoding.
func (d DType) Valid() bool { return d >= FP16 && d <= INT4 }

// BitWidth returns the storage width of one element in bits.
func (d DType) BitWidth() int {
	switch d {
	case FP16:
		return 16
	case FP8, INT8:
		return 8
	case INT4:
		return 4
	default:
		return 0
	}
}

// ByteLen returns the buffer length required for n elements. INT4 packs two
// elements per byte, so an odd count rounds up. ok is false for an invalid
// dtype, a negative count or overflow.
func (d DType) ByteLen(n int) (length int, ok bool) {
	if n < 0 || !d.Valid() {
		return 0, false
	}
	switch d {
	case FP16:
		if n > math.MaxInt/2 {
			return 0, false
		}
		return n * 2, true
	case INT4:
		return n/2 + n%2, true
	default:
		return n, true
	}
}

// ParseDType parses the names produced by String, case-insensitively.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fp16", "f16":
		return FP16, nil
	case "fp8", "f8", "fp8-e4m3":
		return FP8, nil
	case "int8", "i8":
		return INT8, nil
	case "int4", "i4":
		return INT4, nil
	default:
		return DTypeInvalid, fmt.Errorf("unknown dtype %q", s)
	}
}

func (d DType) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid dtype %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *DType) UnmarshalText(b []byte) error {
	v, err := ParseDType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
