package device

import (
	"errors"
	"testing"
)

func TestImageNameRoundTrip(t *testing.T) {
	t.Parallel()

	im := Image{Part: "KV260", R: 8, C: 8, N: 8, Es: 2, QSize: 128, Depth: 8}
	if got := im.Name(); got != "KV260_8_8_8_2_128_8.bit" {
		t.Fatalf("Name() = %q", got)
	}
	parsed, err := ParseImageName(im.Name())
	if err != nil {
		t.Fatalf("ParseImageName() error = %v", err)
	}
	if parsed != im {
		t.Fatalf("ParseImageName() = %+v, want %+v", parsed, im)
	}
}

func TestParseImageNamePartWithUnderscore(t *testing.T) {
	t.Parallel()

	im, err := ParseImageName("xczu3eg_sbva484_4_2_16_1_64_2.bit")
	if err != nil {
		t.Fatalf("ParseImageName() error = %v", err)
	}
	if im.Part != "xczu3eg_sbva484" || im.R != 4 || im.C != 2 || im.N != 16 || im.Depth != 2 {
		t.Fatalf("ParseImageName() = %+v", im)
	}
}

func TestParseImageNameErrors(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"KV260_8_8_8_2_128_8", "KV260_8_8.bit", "KV260_8_x_8_2_128_8.bit"} {
		if _, err := ParseImageName(name); !errors.Is(err, ErrInvalidImageName) {
			t.Errorf("ParseImageName(%q) error = %v", name, err)
		}
	}
}

func TestHandlesCloseOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	h := NewHandles(nil, nil, func() error {
		calls++
		return nil
	})
	_ = h.Close()
	_ = h.Close()
	if calls != 1 {
		t.Fatalf("closer called %d times", calls)
	}
	var nilHandles *Handles
	if err := nilHandles.Close(); err != nil {
		t.Fatalf("nil Close() error = %v", err)
	}
}
