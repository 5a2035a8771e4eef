package sampler

// Grid is a fixed-resolution, row-major, non-premultiplied RGBA pixel grid.
type Grid struct {
	Width  int
	Height int
	Pix    []uint8 // len = Width*Height*4
}

// PixelSample is one grid cell with channels normalized to [0,1].
type PixelSample struct {
	Row, Col   int
	R, G, B, A float32
}

// At returns the sample at (row, col).
func (g *Grid) At(row, col int) PixelSample {
	i := (row*g.Width + col) * 4
	return PixelSample{
		Row: row,
		Col: col,
		R:   float32(g.Pix[i]) / 255,
		G:   float32(g.Pix[i+1]) / 255,
		B:   float32(g.Pix[i+2]) / 255,
		A:   float32(g.Pix[i+3]) / 255,
	}
}
