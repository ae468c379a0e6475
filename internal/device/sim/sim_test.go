package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samcharles93/systolic/internal/device"
)

func loadTestImage(t *testing.T, d *Device, im device.Image) *device.Handles {
	t.Helper()
	h, err := d.LoadImage(context.Background(), im.Name())
	if err != nil {
		t.Fatalf("LoadImage() error = %v", err)
	}
	return h
}

func TestSingleTileProduct(t *testing.T) {
	t.Parallel()

	d := New()
	h := loadTestImage(t, d, device.Image{Part: "sim", R: 1, C: 1, N: 8, Es: 0, QSize: 1, Depth: 1})
	if err := h.Registers.Write(device.RegFraming, 3); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Width is NextPow2(1+1) = 2: one A element and one B element per cycle.
	send := []byte{
		0xFF, 0xFF, // guard
		2, 5,
		3, 7,
		4, 100,
	}
	if err := h.DMA.SendAndWait(context.Background(), send); err != nil {
		t.Fatalf("SendAndWait() error = %v", err)
	}
	recv := make([]byte, 2)
	if err := h.DMA.RecvAndWait(context.Background(), recv); err != nil {
		t.Fatalf("RecvAndWait() error = %v", err)
	}
	// 2*5 + 3*7 + 4*100 = 431, wrapped to 8 bits.
	if recv[1] != uint8(431%256) {
		t.Fatalf("tile = %d, want %d", recv[1], 431%256)
	}

	st := d.Stats()
	if st.Loads != 1 || st.Sends != 1 || st.Receives != 1 || st.Transfers != 2 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestStreamLengthChecked(t *testing.T) {
	t.Parallel()

	d := New()
	h := loadTestImage(t, d, device.Image{Part: "sim", R: 2, C: 2, N: 16, QSize: 1, Depth: 2})
	_ = h.Registers.Write(device.RegFraming, 4)
	if err := h.DMA.SendAndWait(context.Background(), make([]byte, 10)); !errors.Is(err, ErrStreamLength) {
		t.Fatalf("SendAndWait() error = %v, want ErrStreamLength", err)
	}
	if err := h.DMA.RecvAndWait(context.Background(), make([]byte, 10)); !errors.Is(err, ErrNoStream) {
		t.Fatalf("RecvAndWait() error = %v, want ErrNoStream", err)
	}
}

func TestResetInvalidatesHandles(t *testing.T) {
	t.Parallel()

	d := New()
	im := device.Image{Part: "sim", R: 2, C: 2, N: 8, QSize: 1, Depth: 1}
	h := loadTestImage(t, d, im)
	if err := d.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if err := h.Registers.Write(0, 1); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("Write() after reset error = %v", err)
	}
	loadTestImage(t, d, im)
	if err := h.Registers.Write(0, 1); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("Write() with stale handle error = %v", err)
	}
	if got, ok := d.Image(); !ok || got != im {
		t.Fatalf("Image() = %+v, %v", got, ok)
	}
}

func TestLoadImageRejectsBadNames(t *testing.T) {
	t.Parallel()

	d := New()
	if _, err := d.LoadImage(context.Background(), "nonsense"); err == nil {
		t.Fatal("expected error for malformed name")
	}
	wide := device.Image{Part: "sim", R: 2, C: 2, N: 40, QSize: 1, Depth: 1}
	if _, err := d.LoadImage(context.Background(), wide.Name()); err == nil {
		t.Fatal("expected error for 40-bit elements")
	}
	boom := errors.New("boom")
	d.Inject(Faults{LoadErr: boom})
	ok := device.Image{Part: "sim", R: 2, C: 2, N: 8, QSize: 1, Depth: 1}
	if _, err := d.LoadImage(context.Background(), ok.Name()); !errors.Is(err, boom) {
		t.Fatalf("LoadImage() error = %v, want injected", err)
	}
}

func TestInjectedTransferFailureAndDelay(t *testing.T) {
	t.Parallel()

	d := New()
	h := loadTestImage(t, d, device.Image{Part: "sim", R: 1, C: 1, N: 8, QSize: 1, Depth: 1})
	_ = h.Registers.Write(device.RegFraming, 1)

	boom := errors.New("dma halted")
	d.Inject(Faults{FailTransfer: 1, TransferErr: boom})
	if err := h.DMA.SendAndWait(context.Background(), make([]byte, 4)); !errors.Is(err, boom) {
		t.Fatalf("SendAndWait() error = %v, want injected", err)
	}

	d.Inject(Faults{Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := h.DMA.SendAndWait(ctx, make([]byte, 4)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SendAndWait() error = %v, want deadline exceeded", err)
	}
}
