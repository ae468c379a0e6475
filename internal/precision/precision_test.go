package precision

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bits int
		want Class
	}{
		{1, Class8},
		{5, Class8},
		{8, Class8},
		{9, Class16},
		{12, Class16},
		{16, Class16},
		{17, Class32},
		{24, Class32},
		{32, Class32},
	}
	for _, tc := range tests {
		got, err := Resolve(tc.bits)
		if err != nil {
			t.Fatalf("Resolve(%d) error = %v", tc.bits, err)
		}
		if got != tc.want {
			t.Errorf("Resolve(%d) = %v, want %v", tc.bits, got, tc.want)
		}
	}
}

func TestResolveRejectsWideElements(t *testing.T) {
	t.Parallel()

	for n := 33; n <= 128; n++ {
		if _, err := Resolve(n); !errors.Is(err, ErrUnsupportedPrecision) {
			t.Fatalf("Resolve(%d) error = %v, want ErrUnsupportedPrecision", n, err)
		}
	}
	for n := 1; n <= 32; n++ {
		if _, err := Resolve(n); err != nil {
			t.Fatalf("Resolve(%d) unexpected error %v", n, err)
		}
	}
}

type word uint16

func TestOf(t *testing.T) {
	t.Parallel()

	if got := Of[uint8](); got != Class8 {
		t.Errorf("Of[uint8]() = %v", got)
	}
	if got := Of[uint16](); got != Class16 {
		t.Errorf("Of[uint16]() = %v", got)
	}
	if got := Of[uint32](); got != Class32 {
		t.Errorf("Of[uint32]() = %v", got)
	}
	if got := Of[word](); got != Class16 {
		t.Errorf("Of[word]() = %v", got)
	}
	if Class32.Bytes() != 4 || Class8.String() != "uint8" {
		t.Fatalf("unexpected class helpers: %d %s", Class32.Bytes(), Class8.String())
	}
}
