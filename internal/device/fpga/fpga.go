// Package fpga drives a Zynq-class board through stock Linux interfaces: the
// FPGA manager loads bitstreams, an AXI GPIO block mapped through UIO carries
// the control registers, and the AXI DMA MM2S/S2MM channels are exposed as
// character devices.
package fpga

import (
	"errors"
	"path/filepath"
)

var ErrUnsupported = errors.New("fpga: platform not supported")

// Options locates the kernel interfaces for one accelerator.
type Options struct {
	// BitstreamDir is the firmware search path the FPGA manager loads from.
	BitstreamDir string
	// Manager is the fpga_manager sysfs directory.
	Manager string
	// UIODevice maps the AXI GPIO register block.
	UIODevice  string
	UIOMapSize int
	// TxDevice and RxDevice are the MM2S and S2MM DMA channels.
	TxDevice string
	RxDevice string
}

func DefaultOptions() Options {
	return Options{
		BitstreamDir: "/lib/firmware",
		Manager:      "/sys/class/fpga_manager/fpga0",
		UIODevice:    "/dev/uio0",
		UIOMapSize:   0x1000,
		TxDevice:     "/dev/axidma_tx",
		RxDevice:     "/dev/axidma_rx",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BitstreamDir == "" {
		o.BitstreamDir = def.BitstreamDir
	}
	if o.Manager == "" {
		o.Manager = def.Manager
	}
	if o.UIODevice == "" {
		o.UIODevice = def.UIODevice
	}
	if o.UIOMapSize <= 0 {
		o.UIOMapSize = def.UIOMapSize
	}
	if o.TxDevice == "" {
		o.TxDevice = def.TxDevice
	}
	if o.RxDevice == "" {
		o.RxDevice = def.RxDevice
	}
	return o
}

func (o Options) managerFile(name string) string {
	return filepath.Join(o.Manager, name)
}

// AXI GPIO places channel n's data register at n*8; register i of the
// accelerator is wired to GPIO channel i+1.
func gpioOffset(index int) int {
	return index * 8
}
