package warp

// DefaultTileSize is the largest output region one unit handles in variable
// mode. 64x64 keeps a uint8 RGBA tile at 16KB; it is a tunable, not a law.
var DefaultTileSize = Extent{W: 64, H: 64}

// TileCount returns how many tiles of at most tile cover size.
func TileCount(size, tile Extent) int {
	return ceilDiv(size.W, tile.W) * ceilDiv(size.H, tile.H)
}

// Partition cuts every sample's output into tiles of at most tile and returns
// one BlockDesc per tile, in sample order and then row-major tile order.
// Tiles on the right and bottom edges are clipped to the sample, so the
// blocks of a sample cover its output exactly once.
func Partition(sizes []Extent, tile Extent) ([]BlockDesc, error) {
	if !tile.Positive() {
		return nil, preconditionf("tile size %v is not positive", tile)
	}
	total := 0
	for i, s := range sizes {
		if !s.Positive() {
			return nil, preconditionf("sample %d: output extent %v is not positive", i, s)
		}
		total += TileCount(s, tile)
	}

	blocks := make([]BlockDesc, 0, total)
	for i, s := range sizes {
		for y := 0; y < s.H; y += tile.H {
			h := min(tile.H, s.H-y)
			for x := 0; x < s.W; x += tile.W {
				w := min(tile.W, s.W-x)
				blocks = append(blocks, BlockDesc{
					Sample: int32(i),
					X:      int32(x),
					Y:      int32(y),
					W:      int32(w),
					H:      int32(h),
				})
			}
		}
	}
	return blocks, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
