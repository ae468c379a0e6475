// Package precision maps nominal element bit-widths onto the unsigned storage
// classes the accelerator streams.
package precision

import (
	"errors"
	"fmt"
)

var ErrUnsupportedPrecision = errors.New("unsupported precision")

// Element is the set of storage types a matrix element can use.
type Element interface {
	~uint8 | ~uint16 | ~uint32
}

// Class is a power-of-two storage width in bits.
type Class int

const (
	Class8  Class = 8
	Class16 Class = 16
	Class32 Class = 32
)

// Resolve returns the smallest storage class that holds n-bit elements.
func Resolve(n int) (Class, error) {
	switch {
	case n < 1:
		return 0, fmt.Errorf("%w: %d-bit elements", ErrUnsupportedPrecision, n)
	case n <= 8:
		return Class8, nil
	case n <= 16:
		return Class16, nil
	case n <= 32:
		return Class32, nil
	default:
		return 0, fmt.Errorf("%w: %d-bit elements", ErrUnsupportedPrecision, n)
	}
}

// Of reports the storage class of T.
func Of[T Element]() Class {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return Class8
	case uint16:
		return Class16
	case uint32:
		return Class32
	}
	// Named types fall through to a size check.
	switch sizeOf[T]() {
	case 1:
		return Class8
	case 2:
		return Class16
	default:
		return Class32
	}
}

func sizeOf[T Element]() int {
	v := ^T(0)
	n := 0
	for v != 0 {
		v >>= 8
		n++
	}
	return n
}

// Bits returns the width of one element.
func (c Class) Bits() int { return int(c) }

// Bytes returns the size of one element.
func (c Class) Bytes() int { return int(c) / 8 }

func (c Class) String() string {
	return fmt.Sprintf("uint%d", int(c))
}
