package tile

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewSquareExample(t *testing.T) {
	t.Parallel()

	p, err := New(4, 4, 4, 4, Geometry{R: 2, C: 2, Depth: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	want := Plan{
		Geometry:   Geometry{R: 2, C: 2, Depth: 2},
		Ar:         4,
		Ac:         4,
		Br:         4,
		Bc:         4,
		TileRows:   2,
		TileCols:   2,
		PaddedRows: 4,
		PaddedCols: 4,
		Rounds:     2,
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
	if p.RowBlock(0) != 0 || p.ColBlock(0) != 0 {
		t.Fatalf("round 0 offsets = (%d, %d)", p.RowBlock(0), p.ColBlock(0))
	}
	if p.RowBlock(1) != 2 || p.ColBlock(1) != 0 {
		t.Fatalf("round 1 offsets = (%d, %d)", p.RowBlock(1), p.ColBlock(1))
	}
}

func TestNewCoversEveryShape(t *testing.T) {
	t.Parallel()

	geoms := []Geometry{
		{R: 1, C: 1, Depth: 1},
		{R: 2, C: 2, Depth: 2},
		{R: 2, C: 3, Depth: 4},
		{R: 4, C: 4, Depth: 8},
		{R: 8, C: 8, Depth: 8},
		{R: 3, C: 5, Depth: 6},
	}
	for _, g := range geoms {
		for ar := 1; ar <= 20; ar += 3 {
			for bc := 1; bc <= 20; bc += 2 {
				p, err := New(ar, 7, 7, bc, g)
				if err != nil {
					t.Fatalf("New(%d, 7, 7, %d, %+v) error = %v", ar, bc, g, err)
				}
				if p.PaddedRows < ar || p.PaddedCols < bc {
					t.Fatalf("%+v: padded %dx%d smaller than %dx%d", g, p.PaddedRows, p.PaddedCols, ar, bc)
				}
				tiles := (p.PaddedRows / g.R) * (p.PaddedCols / g.C)
				if tiles%g.Depth != 0 {
					t.Fatalf("%+v ar=%d bc=%d: %d tiles not divisible by depth", g, ar, bc, tiles)
				}
				if p.Rounds < 1 || p.Rounds*g.Depth != tiles {
					t.Fatalf("%+v ar=%d bc=%d: rounds=%d tiles=%d", g, ar, bc, p.Rounds, tiles)
				}
				assertRoundsCoverTiles(t, p)
			}
		}
	}
}

// assertRoundsCoverTiles walks every round's Depth tiles the way the packer
// and unpacker do and checks each tile is produced exactly once.
func assertRoundsCoverTiles(t *testing.T, p Plan) {
	t.Helper()
	seen := make(map[[2]int]int)
	for i := 0; i < p.Rounds; i++ {
		for d := 0; d < p.Depth; d++ {
			col := p.ColBlock(i) + d*p.C
			row := (p.RowBlock(i) + (col/p.PaddedCols)*p.R) % p.PaddedRows
			col %= p.PaddedCols
			seen[[2]int{row, col}]++
		}
	}
	if len(seen) != p.TileRows*p.TileCols {
		t.Fatalf("covered %d tiles, want %d", len(seen), p.TileRows*p.TileCols)
	}
	for k, n := range seen {
		if n != 1 {
			t.Fatalf("tile %v covered %d times", k, n)
		}
	}
}

func TestNewUnevenTileCount(t *testing.T) {
	t.Parallel()

	// One tile row, three tile columns, depth two: a plain
	// ceil(tiles/depth)*depth/cols adjustment truncates to one row and
	// drops a tile.
	p, err := New(1, 3, 3, 3, Geometry{R: 1, C: 1, Depth: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.TileRows != 2 || p.Rounds != 3 {
		t.Fatalf("TileRows=%d Rounds=%d, want 2 and 3", p.TileRows, p.Rounds)
	}
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	g := Geometry{R: 2, C: 2, Depth: 2}
	if _, err := New(2, 3, 4, 2, g); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("mismatch error = %v", err)
	}
	if _, err := New(0, 3, 3, 2, g); !errors.Is(err, ErrInvalidShape) {
		t.Fatalf("empty shape error = %v", err)
	}
	if _, err := New(2, 2, 2, 2, Geometry{R: 2, C: 0, Depth: 2}); !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("geometry error = %v", err)
	}
}

func TestChannelShape(t *testing.T) {
	t.Parallel()

	p, err := New(10, 6, 6, 10, Geometry{R: 3, C: 3, Depth: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.SendWidth() != 8 || p.SendHeight() != 25 {
		t.Fatalf("send channel %dx%d", p.SendHeight(), p.SendWidth())
	}
	if p.RecvWidth() != 16 || p.RecvHeight() != 5 {
		t.Fatalf("recv channel %dx%d", p.RecvHeight(), p.RecvWidth())
	}
}

func TestNextPow2(t *testing.T) {
	t.Parallel()

	tests := map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 16: 16, 17: 32, 64: 64, 65: 128}
	for in, want := range tests {
		if got := NextPow2(in); got != want {
			t.Errorf("NextPow2(%d) = %d, want %d", in, got, want)
		}
	}
}
