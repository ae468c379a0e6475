//go:build !linux

package fpga

import (
	"context"
	"fmt"
	"runtime"

	"github.com/samcharles93/systolic/internal/device"
)

type Device struct{}

func New(opts Options) *Device {
	return &Device{}
}

func (d *Device) Reset(ctx context.Context) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, runtime.GOOS)
}

func (d *Device) LoadImage(ctx context.Context, name string) (*device.Handles, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, runtime.GOOS)
}
