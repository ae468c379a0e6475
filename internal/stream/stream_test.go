package stream

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/systolic/internal/precision"
	"github.com/samcharles93/systolic/internal/tensor"
	"github.com/samcharles93/systolic/internal/tile"
)

// emulate plays the accelerator for one round: every Ac consecutive cycles
// accumulate one R×C tile, written one tile per inbound row after a guard
// row of garbage.
func emulate[T precision.Element](send, recv []T, p tile.Plan) {
	sw, rw := p.SendWidth(), p.RecvWidth()
	for i := range recv[:rw] {
		recv[i] = ^T(0)
	}
	for d := 0; d < p.Depth; d++ {
		for i := 0; i < p.R; i++ {
			for j := 0; j < p.C; j++ {
				var acc T
				for k := 0; k < p.Ac; k++ {
					row := send[(1+d*p.Ac+k)*sw:]
					acc += row[i] * row[p.R+j]
				}
				recv[(d+1)*rw+i*p.C+j] = acc
			}
		}
	}
}

func roundTrip[T precision.Element](t *testing.T, ar, ac, bc int, g tile.Geometry, workers int) {
	t.Helper()

	a := tensor.New[T](ar, ac)
	b := tensor.New[T](ac, bc)
	tensor.FillRand(a, int64(ar*31+ac), 0)
	tensor.FillRand(b, int64(bc*17+ac), 0)

	p, err := tile.New(ar, ac, ac, bc, g)
	if err != nil {
		t.Fatalf("tile.New() error = %v", err)
	}
	at := a.PadRows(p.PaddedRows).Transpose()
	bp := b.PadCols(p.PaddedCols)
	y := make([]T, p.PaddedRows*p.PaddedCols)
	send := make([]T, p.SendHeight()*p.SendWidth())
	recv := make([]T, p.RecvHeight()*p.RecvWidth())

	for r := 0; r < p.Rounds; r++ {
		if err := Pack(send, at.Data, bp.Data, p, p.RowBlock(r), p.ColBlock(r), workers); err != nil {
			t.Fatalf("Pack(round %d) error = %v", r, err)
		}
		emulate(send, recv, p)
		if err := Unpack(recv, y, p, p.RowBlock(r), p.ColBlock(r)); err != nil {
			t.Fatalf("Unpack(round %d) error = %v", r, err)
		}
	}

	padded, err := tensor.FromData(p.PaddedRows, p.PaddedCols, y)
	if err != nil {
		t.Fatalf("FromData() error = %v", err)
	}
	got := padded.Slice(ar, bc)
	want := tensor.Mul(a, b)
	if diff := cmp.Diff(want.Data, got.Data); diff != "" {
		t.Fatalf("%dx%dx%d %+v: product mismatch (-want +got):\n%s", ar, ac, bc, g, diff)
	}
}

func TestRoundTripMatchesProduct(t *testing.T) {
	t.Parallel()

	geoms := []tile.Geometry{
		{R: 2, C: 2, Depth: 2},
		{R: 3, C: 2, Depth: 4},
		{R: 4, C: 4, Depth: 8},
		{R: 8, C: 8, Depth: 8},
		{R: 1, C: 5, Depth: 3},
	}
	shapes := [][3]int{{4, 4, 4}, {1, 1, 1}, {5, 7, 3}, {17, 9, 23}, {8, 2, 30}}
	for _, g := range geoms {
		for _, s := range shapes {
			roundTrip[uint8](t, s[0], s[1], s[2], g, 1)
			roundTrip[uint16](t, s[0], s[1], s[2], g, 3)
			roundTrip[uint32](t, s[0], s[1], s[2], g, 4)
		}
	}
}

func TestPackLayout(t *testing.T) {
	t.Parallel()

	p, err := tile.New(2, 2, 2, 2, tile.Geometry{R: 2, C: 2, Depth: 2})
	if err != nil {
		t.Fatalf("tile.New() error = %v", err)
	}
	if p.Rounds != 1 || p.PaddedRows != 4 {
		t.Fatalf("unexpected plan %+v", p)
	}
	a, _ := tensor.FromData(2, 2, []uint8{1, 2, 3, 4})
	b, _ := tensor.FromData(2, 2, []uint8{5, 6, 7, 8})
	at := a.PadRows(p.PaddedRows).Transpose()

	send := make([]uint8, p.SendHeight()*p.SendWidth())
	if err := Pack(send, at.Data, b.Data, p, 0, 0, 1); err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	want := []uint8{
		0, 0, 0, 0,
		1, 3, 5, 6,
		2, 4, 7, 8,
		0, 0, 5, 6,
		0, 0, 7, 8,
	}
	if diff := cmp.Diff(want, send); diff != "" {
		t.Fatalf("send channel (-want +got):\n%s", diff)
	}
}

func TestPackParallelMatchesSerial(t *testing.T) {
	t.Parallel()

	p, err := tile.New(19, 13, 13, 21, tile.Geometry{R: 4, C: 3, Depth: 5})
	if err != nil {
		t.Fatalf("tile.New() error = %v", err)
	}
	at := tensor.New[uint16](p.Ac, p.PaddedRows)
	b := tensor.New[uint16](p.Br, p.PaddedCols)
	tensor.FillRand(at, 3, 0)
	tensor.FillRand(b, 4, 0)

	serial := make([]uint16, p.SendHeight()*p.SendWidth())
	parallel := make([]uint16, len(serial))
	for r := 0; r < p.Rounds; r++ {
		if err := Pack(serial, at.Data, b.Data, p, p.RowBlock(r), p.ColBlock(r), 1); err != nil {
			t.Fatalf("serial Pack() error = %v", err)
		}
		if err := Pack(parallel, at.Data, b.Data, p, p.RowBlock(r), p.ColBlock(r), 7); err != nil {
			t.Fatalf("parallel Pack() error = %v", err)
		}
		if diff := cmp.Diff(serial, parallel); diff != "" {
			t.Fatalf("round %d differs (-serial +parallel):\n%s", r, diff)
		}
	}
}

func TestUnpackDiscardsGuardRow(t *testing.T) {
	t.Parallel()

	p, err := tile.New(2, 1, 1, 2, tile.Geometry{R: 1, C: 1, Depth: 4})
	if err != nil {
		t.Fatalf("tile.New() error = %v", err)
	}
	recv := make([]uint32, p.RecvHeight()*p.RecvWidth())
	recv[0] = 0xDEADBEEF
	for k := 1; k <= p.Depth; k++ {
		recv[k] = uint32(k)
	}
	y := make([]uint32, p.PaddedRows*p.PaddedCols)
	if err := Unpack(recv, y, p, p.RowBlock(0), p.ColBlock(0)); err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	// Tiles advance along the row, then wrap onto the next row block.
	if diff := cmp.Diff([]uint32{1, 2, 3, 4}, y); diff != "" {
		t.Fatalf("output (-want +got):\n%s", diff)
	}
}

func TestBufferSizeErrors(t *testing.T) {
	t.Parallel()

	p, err := tile.New(4, 4, 4, 4, tile.Geometry{R: 2, C: 2, Depth: 2})
	if err != nil {
		t.Fatalf("tile.New() error = %v", err)
	}
	ok := make([]uint8, 64)
	if err := Pack(make([]uint8, 3), ok, ok, p, 0, 0, 1); !errors.Is(err, ErrBufferSize) {
		t.Fatalf("Pack() short send error = %v", err)
	}
	if err := Pack(ok, make([]uint8, 3), ok, p, 0, 0, 1); !errors.Is(err, ErrBufferSize) {
		t.Fatalf("Pack() short A error = %v", err)
	}
	if err := Unpack(make([]uint8, 2), ok, p, 0, 0); !errors.Is(err, ErrBufferSize) {
		t.Fatalf("Unpack() short recv error = %v", err)
	}
	if err := Unpack(ok, make([]uint8, 2), p, 0, 0); !errors.Is(err, ErrBufferSize) {
		t.Fatalf("Unpack() short output error = %v", err)
	}
}
