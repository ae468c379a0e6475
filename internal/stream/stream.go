// Package stream converts between padded matrix operands and the flat
// channel buffers exchanged with the accelerator's DMA engine.
//
// The outbound channel carries one systolic clock per row: R elements of the
// transposed A operand followed by C elements of B, padded to a power-of-two
// row width. The inbound channel carries one finished R×C tile per row. Both
// channels start with a guard row covering the array's one-cycle latency.
package stream

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/systolic/internal/precision"
	"github.com/samcharles93/systolic/internal/tile"
)

var ErrBufferSize = errors.New("stream: buffer too small for plan")

// Pack writes the outbound channel for the round starting at
// (rowBlock, colBlock). at is the transposed A operand, Ac×PaddedRows; b is
// the B operand, Br×PaddedCols. Cycles are split across up to workers
// goroutines; each owns a disjoint range of channel rows.
func Pack[T precision.Element](send, at, b []T, p tile.Plan, rowBlock, colBlock, workers int) error {
	if err := checkPack(len(send), len(at), len(b), p); err != nil {
		return err
	}

	cycles := p.Depth * p.Ac
	if workers < 1 {
		workers = 1
	}
	if workers > cycles {
		workers = cycles
	}
	if workers == 1 {
		packCycles(send, at, b, p, rowBlock, colBlock, 0, cycles)
		return nil
	}

	var g errgroup.Group
	chunk := (cycles + workers - 1) / workers
	for lo := 0; lo < cycles; lo += chunk {
		hi := min(lo+chunk, cycles)
		g.Go(func() error {
			packCycles(send, at, b, p, rowBlock, colBlock, lo, hi)
			return nil
		})
	}
	return g.Wait()
}

func packCycles[T precision.Element](send, at, b []T, p tile.Plan, rowBlock, colBlock, lo, hi int) {
	width := p.SendWidth()
	for k := lo; k < hi; k++ {
		// Row 0 is the guard cycle.
		dst := send[(k+1)*width:]

		// k/Ac is the tile within the round; its B columns advance by C
		// and wrap onto the next R-row block of A.
		sweep := colBlock + (k/p.Ac)*p.C
		aCol := (rowBlock + (sweep/p.PaddedCols)*p.R) % p.PaddedRows
		bCol := sweep % p.PaddedCols

		aOff := (k%p.Ac)*p.PaddedRows + aCol
		bOff := (k%p.Br)*p.PaddedCols + bCol

		copy(dst[:p.R], at[aOff:aOff+p.R])
		copy(dst[p.R:p.R+p.C], b[bOff:bOff+p.C])
	}
}

// Unpack scatters the inbound channel for the round starting at
// (rowBlock, colBlock) into y, the PaddedRows×PaddedCols output.
func Unpack[T precision.Element](recv, y []T, p tile.Plan, rowBlock, colBlock int) error {
	if err := checkUnpack(len(recv), len(y), p); err != nil {
		return err
	}

	width := p.RecvWidth()
	for k := 1; k <= p.Depth; k++ {
		src := recv[k*width:]
		for j := 0; j < p.C; j++ {
			col := j + colBlock + (k-1)*p.C
			rowBase := rowBlock + (col/p.PaddedCols)*p.R
			col %= p.PaddedCols
			for i := 0; i < p.R; i++ {
				row := (i + rowBase) % p.PaddedRows
				y[row*p.PaddedCols+col] = src[i*p.C+j]
			}
		}
	}
	return nil
}

func checkPack(send, at, b int, p tile.Plan) error {
	if want := p.SendHeight() * p.SendWidth(); send < want {
		return fmt.Errorf("%w: send channel has %d elements, need %d", ErrBufferSize, send, want)
	}
	if want := p.Ac * p.PaddedRows; at < want {
		return fmt.Errorf("%w: A operand has %d elements, need %d", ErrBufferSize, at, want)
	}
	if want := p.Br * p.PaddedCols; b < want {
		return fmt.Errorf("%w: B operand has %d elements, need %d", ErrBufferSize, b, want)
	}
	return nil
}

func checkUnpack(recv, y int, p tile.Plan) error {
	if want := p.RecvHeight() * p.RecvWidth(); recv < want {
		return fmt.Errorf("%w: recv channel has %d elements, need %d", ErrBufferSize, recv, want)
	}
	if want := p.PaddedRows * p.PaddedCols; y < want {
		return fmt.Errorf("%w: output has %d elements, need %d", ErrBufferSize, y, want)
	}
	return nil
}
