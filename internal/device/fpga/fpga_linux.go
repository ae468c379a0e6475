//go:build linux

package fpga

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/systolic/internal/device"
)

// pollSlice bounds each poll so cancellation is noticed without a deadline.
const pollSlice = 100 * time.Millisecond

type Device struct {
	opts Options

	mu      sync.Mutex
	handles *device.Handles
}

func New(opts Options) *Device {
	return &Device{opts: opts.withDefaults()}
}

// Reset releases the mapped registers and DMA channels of the current image
// and requests a full reconfiguration on the next load.
func (d *Device) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handles != nil {
		_ = d.handles.Close()
		d.handles = nil
	}
	if err := os.WriteFile(d.opts.managerFile("flags"), []byte("0"), 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fpga: reset: %w", err)
	}
	return nil
}

func (d *Device) LoadImage(ctx context.Context, name string) (*device.Handles, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(filepath.Join(d.opts.BitstreamDir, name)); err != nil {
		return nil, fmt.Errorf("fpga: bitstream: %w", err)
	}
	if err := os.WriteFile(d.opts.managerFile("firmware"), []byte(name), 0); err != nil {
		return nil, fmt.Errorf("fpga: load %s: %w", name, err)
	}
	if state, err := os.ReadFile(d.opts.managerFile("state")); err == nil {
		if s := strings.TrimSpace(string(state)); s != "operating" {
			return nil, fmt.Errorf("fpga: load %s: manager state %q", name, s)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	regs, err := openRegisters(d.opts.UIODevice, d.opts.UIOMapSize)
	if err != nil {
		return nil, err
	}
	tx, err := openChannel(d.opts.TxDevice, unix.O_WRONLY)
	if err != nil {
		_ = regs.close()
		return nil, err
	}
	rx, err := openChannel(d.opts.RxDevice, unix.O_RDONLY)
	if err != nil {
		_ = regs.close()
		_ = tx.close()
		return nil, err
	}

	engine := &dmaEngine{tx: tx, rx: rx}
	h := device.NewHandles(engine, regs, func() error {
		return errors.Join(regs.close(), tx.close(), rx.close())
	})
	d.handles = h
	return h, nil
}

type registers struct {
	mu  sync.Mutex
	mem []byte
}

func openRegisters(path string, size int) (*registers, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("fpga: open %s: %w", path, err)
	}
	defer func() { _ = unix.Close(fd) }()

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("fpga: mmap %s: %w", path, err)
	}
	return &registers{mem: mem}, nil
}

func (r *registers) Write(index int, value uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return os.ErrClosed
	}
	off := gpioOffset(index)
	if index < 0 || off+4 > len(r.mem) {
		return fmt.Errorf("fpga: register %d outside mapped window", index)
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&r.mem[off])), value)
	return nil
}

func (r *registers) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}

type dmaEngine struct {
	tx, rx *channel
}

func (e *dmaEngine) SendAndWait(ctx context.Context, buf []byte) error {
	return e.tx.transfer(ctx, buf, true)
}

func (e *dmaEngine) RecvAndWait(ctx context.Context, buf []byte) error {
	return e.rx.transfer(ctx, buf, false)
}

// channel is a non-blocking DMA character device. Each transfer completes
// when the whole buffer has moved.
type channel struct {
	path string
	fd   int
}

func openChannel(path string, mode int) (*channel, error) {
	fd, err := unix.Open(path, mode|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("fpga: open %s: %w", path, err)
	}
	return &channel{path: path, fd: fd}, nil
}

func (c *channel) close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

func (c *channel) transfer(ctx context.Context, buf []byte, write bool) error {
	if c.fd < 0 {
		return os.ErrClosed
	}
	events := int16(unix.POLLIN)
	if write {
		events = unix.POLLOUT
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: events}}

	for off := 0; off < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := pollSlice
		if dl, ok := ctx.Deadline(); ok {
			wait = min(wait, time.Until(dl))
			if wait <= 0 {
				return context.DeadlineExceeded
			}
		}
		ready, err := unix.Poll(fds, int(wait.Milliseconds())+1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("fpga: poll %s: %w", c.path, err)
		}
		if ready == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return fmt.Errorf("fpga: %s: channel error (revents %#x)", c.path, fds[0].Revents)
		}

		var n int
		if write {
			n, err = unix.Write(c.fd, buf[off:])
		} else {
			n, err = unix.Read(c.fd, buf[off:])
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				continue
			}
			return fmt.Errorf("fpga: %s: %w", c.path, err)
		}
		if n == 0 && !write {
			return fmt.Errorf("fpga: %s: unexpected end of stream after %d of %d bytes", c.path, off, len(buf))
		}
		off += n
	}
	return nil
}
