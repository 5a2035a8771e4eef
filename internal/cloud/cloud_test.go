package cloud

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phenoviewer/internal/sampler"
)

func solidGrid(w, h int, r, g, b, a uint8) *sampler.Grid {
	pix := make([]uint8, w*h*4)
	for i := 0; i < w*h; i++ {
		pix[i*4], pix[i*4+1], pix[i*4+2], pix[i*4+3] = r, g, b, a
	}
	return &sampler.Grid{Width: w, Height: h, Pix: pix}
}

func TestBuildLengthMatchesGrid(t *testing.T) {
	t.Parallel()
	for _, dim := range [][2]int{{1, 1}, {2, 2}, {7, 3}, {300, 300}} {
		buf := Build(solidGrid(dim[0], dim[1], 30, 140, 90, 255), DefaultParams())
		n := dim[0] * dim[1]
		assert.Equal(t, n, buf.Len())
		assert.Len(t, buf.Positions, 3*n)
		assert.Len(t, buf.Colors, 3*n)
		assert.Len(t, buf.Originals, 3*n)
		assert.Len(t, buf.Depths, n)
	}
}

func TestBuildOpaqueRedTwoByTwo(t *testing.T) {
	t.Parallel()
	buf := Build(solidGrid(2, 2, 255, 0, 0, 255), DefaultParams())
	require.Equal(t, 4, buf.Len())

	for i := 0; i < 4; i++ {
		assert.Equal(t, []float32{1, 0, 0}, buf.Originals[i*3:i*3+3])
		assert.Equal(t, []float32{1, 0, 0}, buf.Colors[i*3:i*3+3])
		assert.InDelta(t, 0.1495, buf.Depths[i], 1e-6)
		assert.InDelta(t, 0.1495, buf.Positions[i*3+2], 1e-6)
		assert.InDelta(t, (0.5+0.299)*0.04, buf.Sizes[i], 1e-6)
		assert.True(t, buf.Visible(i))
	}

	// x = (col/W - 0.5)*spread, y = (0.5 - row/H)*spread
	want := [][2]float32{{-2, 2}, {0, 2}, {-2, 0}, {0, 0}}
	for i, xy := range want {
		assert.InDelta(t, xy[0], buf.Positions[i*3], 1e-6)
		assert.InDelta(t, xy[1], buf.Positions[i*3+1], 1e-6)
	}
}

func TestBuildHidesLowAlpha(t *testing.T) {
	t.Parallel()
	g := solidGrid(3, 1, 200, 200, 200, 255)
	g.Pix[3] = 25 // 0.098 <= 0.1 → hidden
	g.Pix[7] = 26 // 0.102 > 0.1 → visible
	g.Pix[11] = 0 // hidden

	buf := Build(g, DefaultParams())
	assert.False(t, buf.Visible(0))
	assert.True(t, buf.Visible(1))
	assert.False(t, buf.Visible(2))
	assert.Equal(t, []float32{Sentinel, Sentinel, Sentinel}, buf.Positions[0:3])

	box, ok := buf.Bounds()
	require.True(t, ok)
	assert.Equal(t, buf.Positions[3], box.Min[0])
	assert.Equal(t, buf.Positions[3], box.Max[0])
	assert.Less(t, box.Max[2], float32(1))
}

func TestBuildFullyTransparentIsInvisible(t *testing.T) {
	t.Parallel()
	buf := Build(solidGrid(4, 4, 0, 0, 0, 0), DefaultParams())
	assert.Equal(t, 16, buf.Len())
	_, ok := buf.Bounds()
	assert.False(t, ok)

	s := buf.Stats()
	assert.Equal(t, Stats{Points: 16}, s)
}

func TestDepthRange(t *testing.T) {
	t.Parallel()
	g := solidGrid(2, 1, 0, 0, 0, 255)
	g.Pix[4], g.Pix[5], g.Pix[6] = 255, 255, 255

	buf := Build(g, DefaultParams())
	assert.InDelta(t, 0, buf.Depths[0], 1e-7)
	assert.InDelta(t, 0.5, buf.Depths[1], 1e-6)

	s := buf.Stats()
	assert.Equal(t, 2, s.Visible)
	assert.InDelta(t, 0, s.MinDepth, 1e-7)
	assert.InDelta(t, 0.5, s.MaxDepth, 1e-6)
	assert.InDelta(t, 0.25, s.MeanDepth, 1e-6)
	// darker points render smaller
	assert.Less(t, buf.Sizes[0], buf.Sizes[1])
}

func TestCustomParams(t *testing.T) {
	t.Parallel()
	g := solidGrid(2, 2, 255, 255, 255, 128)
	buf := Build(g, Params{Spread: 2, AlphaThreshold: 0.6})
	for i := 0; i < buf.Len(); i++ {
		assert.False(t, buf.Visible(i))
	}
	buf = Build(g, Params{Spread: 2, AlphaThreshold: 0.1})
	assert.InDelta(t, -1, buf.Positions[0], 1e-6)
}

func TestDirtyFlag(t *testing.T) {
	t.Parallel()
	buf := Build(solidGrid(1, 1, 1, 1, 1, 255), DefaultParams())
	assert.False(t, buf.TakeColorsDirty())
	buf.MarkColorsDirty()
	assert.True(t, buf.TakeColorsDirty())
	assert.False(t, buf.TakeColorsDirty())
}
