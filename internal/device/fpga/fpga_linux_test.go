//go:build linux

package fpga

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func mustWriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// fakeBoard lays out regular files in place of the sysfs and device nodes.
func fakeBoard(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	opts := Options{
		BitstreamDir: filepath.Join(dir, "firmware"),
		Manager:      filepath.Join(dir, "fpga0"),
		UIODevice:    filepath.Join(dir, "uio0"),
		UIOMapSize:   4096,
		TxDevice:     filepath.Join(dir, "tx"),
		RxDevice:     filepath.Join(dir, "rx"),
	}
	for _, d := range []string{opts.BitstreamDir, opts.Manager} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	mustWriteFile(t, filepath.Join(opts.Manager, "firmware"), nil)
	mustWriteFile(t, filepath.Join(opts.Manager, "flags"), nil)
	mustWriteFile(t, filepath.Join(opts.Manager, "state"), []byte("operating\n"))
	mustWriteFile(t, opts.UIODevice, make([]byte, 4096))
	mustWriteFile(t, opts.TxDevice, nil)
	mustWriteFile(t, opts.RxDevice, nil)
	return opts
}

func TestLoadImageWritesFirmwareAndMapsRegisters(t *testing.T) {
	t.Parallel()

	opts := fakeBoard(t)
	const name = "KV260_4_4_8_2_128_4.bit"
	mustWriteFile(t, filepath.Join(opts.BitstreamDir, name), []byte("bitstream"))

	d := New(opts)
	h, err := d.LoadImage(context.Background(), name)
	if err != nil {
		t.Fatalf("LoadImage() error = %v", err)
	}
	defer func() { _ = h.Close() }()

	fw, err := os.ReadFile(filepath.Join(opts.Manager, "firmware"))
	if err != nil {
		t.Fatalf("read firmware: %v", err)
	}
	if string(fw) != name {
		t.Fatalf("firmware = %q, want %q", fw, name)
	}

	if err := h.Registers.Write(1, 0xCAFE); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	mem, err := os.ReadFile(opts.UIODevice)
	if err != nil {
		t.Fatalf("read uio: %v", err)
	}
	if got := binary.NativeEndian.Uint32(mem[gpioOffset(1):]); got != 0xCAFE {
		t.Fatalf("register 1 = %#x", got)
	}
	if err := h.Registers.Write(1000, 1); err == nil {
		t.Fatal("expected out-of-window error")
	}
}

func TestLoadImageMissingBitstream(t *testing.T) {
	t.Parallel()

	d := New(fakeBoard(t))
	if _, err := d.LoadImage(context.Background(), "missing_1_1_8_0_1_1.bit"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadImage() error = %v, want not exist", err)
	}
}

func TestLoadImageManagerNotOperating(t *testing.T) {
	t.Parallel()

	opts := fakeBoard(t)
	const name = "KV260_1_1_8_0_1_1.bit"
	mustWriteFile(t, filepath.Join(opts.BitstreamDir, name), nil)
	mustWriteFile(t, filepath.Join(opts.Manager, "state"), []byte("write error\n"))

	if _, err := New(opts).LoadImage(context.Background(), name); err == nil {
		t.Fatal("expected error for failed manager state")
	}
}

func pipeChannels(t *testing.T) (*channel, *channel) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	rx := &channel{path: "pipe-r", fd: p[0]}
	tx := &channel{path: "pipe-w", fd: p[1]}
	t.Cleanup(func() {
		_ = rx.close()
		_ = tx.close()
	})
	return tx, rx
}

func TestChannelTransfer(t *testing.T) {
	t.Parallel()

	tx, rx := pipeChannels(t)
	e := &dmaEngine{tx: tx, rx: rx}

	out := make([]byte, 1024)
	for i := range out {
		out[i] = byte(i * 7)
	}
	if err := e.SendAndWait(context.Background(), out); err != nil {
		t.Fatalf("SendAndWait() error = %v", err)
	}
	in := make([]byte, len(out))
	if err := e.RecvAndWait(context.Background(), in); err != nil {
		t.Fatalf("RecvAndWait() error = %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("byte %d = %d, want %d", i, in[i], out[i])
		}
	}
}

func TestChannelTransferDeadline(t *testing.T) {
	t.Parallel()

	_, rx := pipeChannels(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rx.transfer(ctx, make([]byte, 16), false)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("transfer() error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("transfer ignored the deadline")
	}
}
