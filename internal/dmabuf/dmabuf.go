// Package dmabuf allocates page-aligned buffers for DMA channels.
package dmabuf

import (
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/systolic/internal/precision"
)

// Buffer is a page-aligned byte region. Anonymous mappings are preferred so
// buffers never share pages with Go heap objects; when mmap is unavailable
// the buffer falls back to the heap.
type Buffer struct {
	data    []byte
	size    int
	mmapped bool
	once    sync.Once
}

// Alloc returns a zeroed buffer of n bytes.
func Alloc(n int) (*Buffer, error) {
	if n <= 0 {
		return &Buffer{}, nil
	}
	page := os.Getpagesize()
	mapped := (n + page - 1) / page * page
	data, err := unix.Mmap(-1, 0, mapped, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return &Buffer{data: make([]byte, n), size: n}, nil
	}
	return &Buffer{data: data, size: n, mmapped: true}, nil
}

// Bytes returns the usable n bytes of the buffer.
func (b *Buffer) Bytes() []byte {
	if b.data == nil {
		return nil
	}
	return b.data[:b.size]
}

// Len returns the usable size in bytes.
func (b *Buffer) Len() int { return b.size }

// Mapped reports whether the buffer is backed by an anonymous mapping.
func (b *Buffer) Mapped() bool { return b.mmapped }

// Close releases the mapping. The buffer must not be used afterwards.
func (b *Buffer) Close() error {
	var err error
	b.once.Do(func() {
		if b.mmapped {
			err = unix.Munmap(b.data)
		}
		b.data = nil
		b.size = 0
	})
	return err
}

// View reinterprets the buffer as elements of T in host byte order.
func View[T precision.Element](b *Buffer) []T {
	raw := b.Bytes()
	var zero T
	n := len(raw) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), n)
}
