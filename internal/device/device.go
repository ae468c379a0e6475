// Package device defines the surface through which the host reaches the
// accelerator: bitstream control, control registers and the DMA engine.
package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidImageName = errors.New("invalid bitstream image name")

// RegFraming holds the number of stream cycles that make up one output tile.
const RegFraming = 0

// Control resets the programmable logic and loads bitstream images.
type Control interface {
	Reset(ctx context.Context) error
	LoadImage(ctx context.Context, name string) (*Handles, error)
}

// DMA is a blocking streaming engine with one outbound and one inbound
// channel. Buffers hold little-endian elements.
type DMA interface {
	SendAndWait(ctx context.Context, buf []byte) error
	RecvAndWait(ctx context.Context, buf []byte) error
}

// Registers is the accelerator's control register file.
type Registers interface {
	Write(index int, value uint32) error
}

// Handles are the per-image resources returned by LoadImage. They remain
// valid until Close or the next Reset.
type Handles struct {
	DMA       DMA
	Registers Registers

	closer func() error
}

// NewHandles bundles dma and regs; closer may be nil.
func NewHandles(dma DMA, regs Registers, closer func() error) *Handles {
	return &Handles{DMA: dma, Registers: regs, closer: closer}
}

func (h *Handles) Close() error {
	if h == nil || h.closer == nil {
		return nil
	}
	closer := h.closer
	h.closer = nil
	return closer()
}

// Image identifies a bitstream by the parameters it was synthesised with.
type Image struct {
	Part  string
	R, C  int
	N     int
	Es    int
	QSize int
	Depth int
}

// Name is the bitstream file name, e.g. "KV260_8_8_8_2_128_8.bit".
func (im Image) Name() string {
	return fmt.Sprintf("%s_%d_%d_%d_%d_%d_%d.bit", im.Part, im.R, im.C, im.N, im.Es, im.QSize, im.Depth)
}

// ParseImageName is the inverse of Image.Name.
func ParseImageName(name string) (Image, error) {
	base, ok := strings.CutSuffix(name, ".bit")
	if !ok {
		return Image{}, fmt.Errorf("%w: %q", ErrInvalidImageName, name)
	}
	// The part name may itself contain underscores; the six numeric fields
	// are always the trailing ones.
	fields := strings.Split(base, "_")
	if len(fields) < 7 {
		return Image{}, fmt.Errorf("%w: %q", ErrInvalidImageName, name)
	}
	nums := make([]int, 6)
	for i, f := range fields[len(fields)-6:] {
		v, err := strconv.Atoi(f)
		if err != nil {
			return Image{}, fmt.Errorf("%w: %q: %v", ErrInvalidImageName, name, err)
		}
		nums[i] = v
	}
	return Image{
		Part:  strings.Join(fields[:len(fields)-6], "_"),
		R:     nums[0],
		C:     nums[1],
		N:     nums[2],
		Es:    nums[3],
		QSize: nums[4],
		Depth: nums[5],
	}, nil
}
