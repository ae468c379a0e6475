// Package tile decomposes a matrix product into the fixed R×C output tiles a
// systolic array produces, grouped Depth tiles per DMA round.
package tile

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	ErrDimensionMismatch = errors.New("matrix inner dimensions mismatch")
	ErrInvalidShape      = errors.New("invalid matrix shape")
	ErrInvalidGeometry   = errors.New("invalid accelerator geometry")
)

// Geometry is the physical shape of the array: R×C multiply-accumulate
// units producing Depth output tiles per round-trip.
type Geometry struct {
	R, C  int
	Depth int
}

func (g Geometry) Validate() error {
	if g.R < 1 || g.C < 1 || g.Depth < 1 {
		return fmt.Errorf("%w: R=%d C=%d Depth=%d", ErrInvalidGeometry, g.R, g.C, g.Depth)
	}
	return nil
}

// Plan describes how an (Ar×Ac)·(Br×Bc) product is laid over the array.
//
// The output is padded to PaddedRows×PaddedCols so that the tile count
// TileRows*TileCols is an exact multiple of Depth. Round i covers tiles
// [i*Depth, (i+1)*Depth) in row-major tile order.
type Plan struct {
	Geometry

	Ar, Ac int
	Br, Bc int

	TileRows   int
	TileCols   int
	PaddedRows int
	PaddedCols int
	Rounds     int
}

// New plans the product of an Ar×Ac and a Br×Bc operand.
func New(ar, ac, br, bc int, g Geometry) (Plan, error) {
	if err := g.Validate(); err != nil {
		return Plan{}, err
	}
	if ac != br {
		return Plan{}, fmt.Errorf("%w: (%d, %d) and (%d, %d)", ErrDimensionMismatch, ar, ac, br, bc)
	}
	if ar < 1 || ac < 1 || bc < 1 {
		return Plan{}, fmt.Errorf("%w: (%d, %d) and (%d, %d)", ErrInvalidShape, ar, ac, br, bc)
	}

	tileRows := ceilDiv(ar, g.R)
	tileCols := ceilDiv(bc, g.C)

	// Grow the tile-row count to the smallest value whose product with
	// tileCols is a multiple of Depth.
	step := g.Depth / gcd(g.Depth, tileCols)
	tileRows = ceilDiv(tileRows, step) * step

	return Plan{
		Geometry:   g,
		Ar:         ar,
		Ac:         ac,
		Br:         br,
		Bc:         bc,
		TileRows:   tileRows,
		TileCols:   tileCols,
		PaddedRows: tileRows * g.R,
		PaddedCols: tileCols * g.C,
		Rounds:     tileRows * tileCols / g.Depth,
	}, nil
}

// RowBlock is the first output row of round i. In the transposed A operand
// it is the first column read by the round.
func (p Plan) RowBlock(i int) int {
	return (i * p.Depth / p.TileCols) * p.R
}

// ColBlock is the first output column of round i.
func (p Plan) ColBlock(i int) int {
	return (i * p.Depth % p.TileCols) * p.C
}

// SendWidth is the outbound channel width in elements.
func (p Plan) SendWidth() int { return NextPow2(p.R + p.C) }

// SendHeight is the outbound channel height: one guard cycle followed by
// Depth sweeps of the inner dimension.
func (p Plan) SendHeight() int { return p.Depth*p.Ac + 1 }

// RecvWidth is the inbound channel width in elements.
func (p Plan) RecvWidth() int { return NextPow2(p.R * p.C) }

// RecvHeight is the inbound channel height: one guard cycle followed by one
// row per output tile.
func (p Plan) RecvHeight() int { return p.Depth + 1 }

// NextPow2 returns the smallest power of two >= n.
func NextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
