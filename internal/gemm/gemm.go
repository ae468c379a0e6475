// Package gemm runs matrix products on the accelerator, one DMA round-trip
// per Depth output tiles.
package gemm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/systolic/internal/accel"
	"github.com/samcharles93/systolic/internal/device"
	"github.com/samcharles93/systolic/internal/dmabuf"
	"github.com/samcharles93/systolic/internal/logger"
	"github.com/samcharles93/systolic/internal/precision"
	"github.com/samcharles93/systolic/internal/stream"
	"github.com/samcharles93/systolic/internal/tensor"
	"github.com/samcharles93/systolic/internal/tile"
)

var (
	ErrPrecisionMismatch = errors.New("operand precision does not match accelerator")
	ErrTransfer          = errors.New("dma transfer failed")
	ErrTransferTimeout   = errors.New("dma transfer timed out")
	ErrTooLarge          = errors.New("product exceeds host working-set limit")
)

const DefaultTransferTimeout = 10 * time.Second

type Options struct {
	// TransferTimeout bounds each blocking DMA step. Zero disables it.
	TransferTimeout time.Duration
	// MaxWorkingBytes bounds the host memory a call allocates, as measured
	// by WorkingSet. Zero disables it.
	MaxWorkingBytes int64
}

// WorkingSet is the number of host bytes Multiply allocates for p: the
// padded and transposed operands, the padded product, the sliced result and
// both channel buffers.
func WorkingSet(p tile.Plan, class precision.Class) int64 {
	elems := 2*int64(p.Ac)*int64(p.PaddedRows) +
		int64(p.Br)*int64(p.PaddedCols) +
		int64(p.PaddedRows)*int64(p.PaddedCols) +
		int64(p.Ar)*int64(p.Bc) +
		int64(p.SendHeight())*int64(p.SendWidth()) +
		int64(p.RecvHeight())*int64(p.RecvWidth())
	return elems * int64(class.Bytes())
}

// Stats breaks down where a Multiply call spent its time.
type Stats struct {
	Rounds   int
	Pack     time.Duration
	Transfer time.Duration
	Unpack   time.Duration
	Total    time.Duration
}

// Multiply computes a·b on the session's accelerator. Rounds run strictly
// in order over the single DMA engine. A failed call leaves no state to
// resume; callers retry the whole product.
func Multiply[T precision.Element](ctx context.Context, s *accel.Session, a, b *tensor.Matrix[T], opts Options) (*tensor.Matrix[T], Stats, error) {
	var st Stats
	start := time.Now()

	class, err := s.Config.Precision()
	if err != nil {
		return nil, st, err
	}
	if got := precision.Of[T](); got != class {
		return nil, st, fmt.Errorf("%w: operands are %s, accelerator N=%d needs %s", ErrPrecisionMismatch, got, s.Config.N, class)
	}
	plan, err := tile.New(a.Rows, a.Cols, b.Rows, b.Cols, s.Config.Geometry())
	if err != nil {
		return nil, st, err
	}
	if ws := WorkingSet(plan, class); opts.MaxWorkingBytes > 0 && ws > opts.MaxWorkingBytes {
		return nil, st, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, ws, opts.MaxWorkingBytes)
	}

	at := a.PadRows(plan.PaddedRows).Transpose()
	bp := b.PadCols(plan.PaddedCols)
	y := make([]T, plan.PaddedRows*plan.PaddedCols)

	sendBuf, err := dmabuf.Alloc(plan.SendHeight() * plan.SendWidth() * class.Bytes())
	if err != nil {
		return nil, st, err
	}
	defer func() { _ = sendBuf.Close() }()
	recvBuf, err := dmabuf.Alloc(plan.RecvHeight() * plan.RecvWidth() * class.Bytes())
	if err != nil {
		return nil, st, err
	}
	defer func() { _ = recvBuf.Close() }()
	send := dmabuf.View[T](sendBuf)
	recv := dmabuf.View[T](recvBuf)

	log := logger.Component(ctx, "gemm").With(
		"shape", fmt.Sprintf("%dx%dx%d", plan.Ar, plan.Ac, plan.Bc),
		"rounds", plan.Rounds,
	)

	if err := s.Registers.Write(device.RegFraming, uint32(plan.Ac)); err != nil {
		return nil, st, fmt.Errorf("%w: framing register: %w", ErrTransfer, err)
	}

	for i := 0; i < plan.Rounds; i++ {
		rowBlock, colBlock := plan.RowBlock(i), plan.ColBlock(i)

		t := time.Now()
		if err := stream.Pack(send, at.Data, bp.Data, plan, rowBlock, colBlock, s.Config.NumThreads); err != nil {
			return nil, st, err
		}
		st.Pack += time.Since(t)

		t = time.Now()
		if err := transfer(ctx, opts.TransferTimeout, s.DMA.SendAndWait, sendBuf.Bytes(), "send", i); err != nil {
			return nil, st, err
		}
		if err := transfer(ctx, opts.TransferTimeout, s.DMA.RecvAndWait, recvBuf.Bytes(), "recv", i); err != nil {
			return nil, st, err
		}
		st.Transfer += time.Since(t)

		t = time.Now()
		if err := stream.Unpack(recv, y, plan, rowBlock, colBlock); err != nil {
			return nil, st, err
		}
		st.Unpack += time.Since(t)
		st.Rounds++

		log.Debug("round complete", "round", i, "row_block", rowBlock, "col_block", colBlock)
	}

	padded, err := tensor.FromData(plan.PaddedRows, plan.PaddedCols, y)
	if err != nil {
		return nil, st, err
	}
	out := padded.Slice(plan.Ar, plan.Bc)
	st.Total = time.Since(start)

	log.Debug("gemm complete",
		"pack", st.Pack,
		"transfer", st.Transfer,
		"unpack", st.Unpack,
		"total", st.Total,
	)
	return out, st, nil
}

func transfer(ctx context.Context, timeout time.Duration, op func(context.Context, []byte) error, buf []byte, dir string, round int) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := op(ctx, buf)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: round %d %s: %w", ErrTransferTimeout, round, dir, err)
	default:
		return fmt.Errorf("%w: round %d %s: %w", ErrTransfer, round, dir, err)
	}
}
