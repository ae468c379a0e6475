// Package sim is a software model of the systolic GEMM accelerator. It
// decodes the outbound stream exactly as the hardware latches it and answers
// with one accumulated R×C tile per inbound row.
package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samcharles93/systolic/internal/device"
	"github.com/samcharles93/systolic/internal/precision"
	"github.com/samcharles93/systolic/internal/tile"
)

var (
	ErrNotLoaded    = errors.New("sim: no image loaded")
	ErrStaleHandle  = errors.New("sim: handle invalidated by reset")
	ErrNoStream     = errors.New("sim: receive without a completed send")
	ErrStreamLength = errors.New("sim: stream length does not match framing")
)

const numRegisters = 16

// Faults configures failures for tests. FailTransfer counts sends and
// receives together, starting at 1.
type Faults struct {
	LoadErr      error
	FailTransfer int
	TransferErr  error
	Delay        time.Duration
}

// Stats counts device interactions.
type Stats struct {
	Resets    int
	Loads     int
	Sends     int
	Receives  int
	Transfers int
}

type Device struct {
	mu         sync.Mutex
	generation int
	loaded     bool
	image      device.Image
	class      precision.Class
	regs       [numRegisters]uint32
	pending    []byte
	faults     Faults
	stats      Stats
}

func New() *Device {
	return &Device{}
}

// Inject replaces the active fault configuration.
func (d *Device) Inject(f Faults) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = f
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Image returns the loaded image, if any.
func (d *Device) Image() (device.Image, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.image, d.loaded
}

// Register returns the current value of register i.
func (d *Device) Register(i int) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[i]
}

func (d *Device) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Resets++
	d.generation++
	d.loaded = false
	d.pending = nil
	d.regs = [numRegisters]uint32{}
	return nil
}

// LoadImage configures the array from the geometry encoded in name.
func (d *Device) LoadImage(ctx context.Context, name string) (*device.Handles, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.faults.LoadErr != nil {
		return nil, d.faults.LoadErr
	}
	im, err := device.ParseImageName(name)
	if err != nil {
		return nil, err
	}
	if err := (tile.Geometry{R: im.R, C: im.C, Depth: im.Depth}).Validate(); err != nil {
		return nil, err
	}
	class, err := precision.Resolve(im.N)
	if err != nil {
		return nil, err
	}

	d.stats.Loads++
	d.generation++
	d.loaded = true
	d.image = im
	d.class = class
	d.pending = nil

	h := &handle{dev: d, generation: d.generation}
	return device.NewHandles(h, h, nil), nil
}

type handle struct {
	dev        *Device
	generation int
}

func (h *handle) Write(index int, value uint32) error {
	d := h.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkHandle(h); err != nil {
		return err
	}
	if index < 0 || index >= numRegisters {
		return fmt.Errorf("sim: register %d out of range", index)
	}
	d.regs[index] = value
	return nil
}

func (h *handle) SendAndWait(ctx context.Context, buf []byte) error {
	d := h.dev
	if err := d.transfer(ctx, h); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Sends++
	out, err := d.compute(buf)
	if err != nil {
		return err
	}
	d.pending = out
	return nil
}

func (h *handle) RecvAndWait(ctx context.Context, buf []byte) error {
	d := h.dev
	if err := d.transfer(ctx, h); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Receives++
	if d.pending == nil {
		return ErrNoStream
	}
	if len(buf) != len(d.pending) {
		return fmt.Errorf("%w: inbound buffer is %d bytes, device produced %d", ErrStreamLength, len(buf), len(d.pending))
	}
	copy(buf, d.pending)
	d.pending = nil
	return nil
}

// transfer applies handle validation, injected failures and delay.
func (d *Device) transfer(ctx context.Context, h *handle) error {
	d.mu.Lock()
	if err := d.checkHandle(h); err != nil {
		d.mu.Unlock()
		return err
	}
	d.stats.Transfers++
	n := d.stats.Transfers
	f := d.faults
	d.mu.Unlock()

	if f.FailTransfer > 0 && n == f.FailTransfer {
		if f.TransferErr != nil {
			return f.TransferErr
		}
		return fmt.Errorf("sim: injected failure on transfer %d", n)
	}
	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (d *Device) checkHandle(h *handle) error {
	if !d.loaded {
		return ErrNotLoaded
	}
	if h.generation != d.generation {
		return ErrStaleHandle
	}
	return nil
}

// compute runs Depth tiles over the stream in buf. The framing register
// gives the number of cycles per tile.
func (d *Device) compute(buf []byte) ([]byte, error) {
	im := d.image
	k := int(d.regs[device.RegFraming])
	if k < 1 {
		return nil, fmt.Errorf("%w: framing register is %d", ErrStreamLength, k)
	}
	size := d.class.Bytes()
	sw := tile.NextPow2(im.R + im.C)
	rw := tile.NextPow2(im.R * im.C)
	if want := (im.Depth*k + 1) * sw * size; len(buf) != want {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrStreamLength, len(buf), want)
	}

	out := make([]byte, (im.Depth+1)*rw*size)
	// The guard row is whatever the pipeline held before the first latch.
	for i := range out[:rw*size] {
		out[i] = 0xA5
	}

	mask := uint32(1<<d.class.Bits() - 1)
	if d.class == precision.Class32 {
		mask = ^uint32(0)
	}
	acc := make([]uint32, im.R*im.C)
	for t := 0; t < im.Depth; t++ {
		clear(acc)
		for cycle := 0; cycle < k; cycle++ {
			row := (1 + t*k + cycle) * sw
			for i := 0; i < im.R; i++ {
				a := d.load(buf, row+i)
				if a == 0 {
					continue
				}
				for j := 0; j < im.C; j++ {
					acc[i*im.C+j] += a * d.load(buf, row+im.R+j)
				}
			}
		}
		base := (t + 1) * rw
		for idx, v := range acc {
			d.store(out, base+idx, v&mask)
		}
	}
	return out, nil
}

func (d *Device) load(buf []byte, idx int) uint32 {
	switch d.class {
	case precision.Class8:
		return uint32(buf[idx])
	case precision.Class16:
		return uint32(binary.LittleEndian.Uint16(buf[2*idx:]))
	default:
		return binary.LittleEndian.Uint32(buf[4*idx:])
	}
}

func (d *Device) store(buf []byte, idx int, v uint32) {
	switch d.class {
	case precision.Class8:
		buf[idx] = uint8(v)
	case precision.Class16:
		binary.LittleEndian.PutUint16(buf[2*idx:], uint16(v))
	default:
		binary.LittleEndian.PutUint32(buf[4*idx:], v)
	}
}
