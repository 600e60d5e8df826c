package warp

import (
	"errors"
	"math/rand"
	"testing"
)

// =============================================================================
// Analyzer Tests
// =============================================================================

func TestAnalyzeShapes(t *testing.T) {
	tests := []struct {
		name        string
		sizes       []Extent
		wantUniform bool
		wantShared  Extent
		wantErr     bool
	}{
		{"single", []Extent{{10, 20}}, true, Extent{10, 20}, false},
		{"all equal", []Extent{{100, 100}, {100, 100}, {100, 100}, {100, 100}}, true, Extent{100, 100}, false},
		{"width differs", []Extent{{100, 100}, {101, 100}}, false, Extent{}, false},
		{"height differs", []Extent{{100, 100}, {100, 100}, {100, 99}}, false, Extent{}, false},
		{"transposed", []Extent{{10, 20}, {20, 10}}, false, Extent{}, false},
		{"empty", nil, false, Extent{}, true},
		{"zero width", []Extent{{0, 5}}, false, Extent{}, true},
		{"negative height", []Extent{{5, 5}, {5, -1}}, false, Extent{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uniform, shared, err := AnalyzeShapes(tt.sizes)
			if tt.wantErr {
				if !errors.Is(err, ErrPrecondition) {
					t.Fatalf("err = %v, want ErrPrecondition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if uniform != tt.wantUniform || shared != tt.wantShared {
				t.Errorf("AnalyzeShapes() = (%v, %v), want (%v, %v)", uniform, shared, tt.wantUniform, tt.wantShared)
			}
		})
	}
}

// =============================================================================
// Partitioner Tests
// =============================================================================

func TestPartition_Scenario(t *testing.T) {
	sizes := []Extent{{50, 50}, {200, 200}, {10, 10}}
	blocks, err := Partition(sizes, Extent{64, 64})
	if err != nil {
		t.Fatal(err)
	}
	perSample := make([]int, len(sizes))
	for _, b := range blocks {
		perSample[b.Sample]++
	}
	want := []int{1, 16, 1}
	for i := range want {
		if perSample[i] != want[i] {
			t.Errorf("sample %d: %d blocks, want %d", i, perSample[i], want[i])
		}
	}
}

func TestPartition_Order(t *testing.T) {
	blocks, err := Partition([]Extent{{130, 70}, {5, 5}}, Extent{64, 64})
	if err != nil {
		t.Fatal(err)
	}
	want := []BlockDesc{
		{Sample: 0, X: 0, Y: 0, W: 64, H: 64},
		{Sample: 0, X: 64, Y: 0, W: 64, H: 64},
		{Sample: 0, X: 128, Y: 0, W: 2, H: 64},
		{Sample: 0, X: 0, Y: 64, W: 64, H: 6},
		{Sample: 0, X: 64, Y: 64, W: 64, H: 6},
		{Sample: 0, X: 128, Y: 64, W: 2, H: 6},
		{Sample: 1, X: 0, Y: 0, W: 5, H: 5},
	}
	if len(blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d", len(blocks), len(want))
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Errorf("block %d = %+v, want %+v", i, blocks[i], want[i])
		}
	}
}

func TestPartition_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		sizes []Extent
		tile  Extent
	}{
		{"zero extent", []Extent{{10, 10}, {0, 10}}, Extent{64, 64}},
		{"negative extent", []Extent{{-1, 10}}, Extent{64, 64}},
		{"zero tile", []Extent{{10, 10}}, Extent{0, 64}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Partition(tt.sizes, tt.tile); !errors.Is(err, ErrPrecondition) {
				t.Errorf("err = %v, want ErrPrecondition", err)
			}
		})
	}
}

// TestPartition_ExactCover checks on random batches that every sample's
// output pixels are covered by exactly one block, that no block exceeds the
// tile, and that only trailing-edge blocks are clipped.
func TestPartition_ExactCover(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tiles := []Extent{{64, 64}, {32, 16}, {1, 1}, {100, 3}}

	for iter := range 50 {
		tile := tiles[iter%len(tiles)]
		n := 1 + rng.Intn(5)
		sizes := make([]Extent, n)
		for i := range sizes {
			sizes[i] = Extent{W: 1 + rng.Intn(150), H: 1 + rng.Intn(150)}
		}
		blocks, err := Partition(sizes, tile)
		if err != nil {
			t.Fatal(err)
		}

		cover := make([][]int, n)
		for i, s := range sizes {
			cover[i] = make([]int, s.Area())
		}
		for _, b := range blocks {
			s := sizes[b.Sample]
			if int(b.W) > tile.W || int(b.H) > tile.H {
				t.Fatalf("block %+v exceeds tile %v", b, tile)
			}
			if int(b.W) < tile.W && int(b.X+b.W) != s.W {
				t.Fatalf("block %+v clipped in width away from the trailing edge of %v", b, s)
			}
			if int(b.H) < tile.H && int(b.Y+b.H) != s.H {
				t.Fatalf("block %+v clipped in height away from the trailing edge of %v", b, s)
			}
			for y := b.Y; y < b.Y+b.H; y++ {
				for x := b.X; x < b.X+b.W; x++ {
					cover[b.Sample][int(y)*s.W+int(x)]++
				}
			}
		}
		for i := range cover {
			for p, c := range cover[i] {
				if c != 1 {
					t.Fatalf("iter %d sample %d pixel %d covered %d times", iter, i, p, c)
				}
			}
			if got, want := countSample(blocks, i), TileCount(sizes[i], tile); got != want {
				t.Fatalf("sample %d: %d blocks, TileCount says %d", i, got, want)
			}
		}
	}
}

func TestPartition_SmallSampleOneBlock(t *testing.T) {
	blocks, err := Partition([]Extent{{3, 64}}, Extent{64, 64})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0] != (BlockDesc{W: 3, H: 64}) {
		t.Errorf("blocks = %+v, want one 3x64 block", blocks)
	}
}

func countSample(blocks []BlockDesc, i int) int {
	n := 0
	for _, b := range blocks {
		if int(b.Sample) == i {
			n++
		}
	}
	return n
}
