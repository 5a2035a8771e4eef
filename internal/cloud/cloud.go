// Package cloud turns a sampled pixel grid into index-aligned point buffers.
package cloud

import (
	"math"

	"phenoviewer/internal/sampler"
)

const (
	// Sentinel is the coordinate hidden points are parked at. It lies far
	// outside any sensible view frustum.
	Sentinel = 99999

	DefaultSpread         = 4.0
	DefaultAlphaThreshold = 0.1

	depthScale = 0.5
	sizeBase   = 0.5
	sizeScale  = 0.04
)

// Params control the geometry of a build.
type Params struct {
	Spread         float32 // world extent of the grid along X and Y
	AlphaThreshold float32 // alpha <= threshold hides the point
}

// DefaultParams returns the stock spread and visibility threshold.
func DefaultParams() Params {
	return Params{Spread: DefaultSpread, AlphaThreshold: DefaultAlphaThreshold}
}

// Buffer is a fixed-length point cloud stored as parallel arrays. Point i
// owns positions[3i:3i+3], colors[3i:3i+3], sizes[i], originals[3i:3i+3] and
// depths[i]. The length never changes after Build.
type Buffer struct {
	Width, Height int

	Positions []float32
	Colors    []float32 // live display colors
	Sizes     []float32
	Originals []float32 // decoded RGB, never rewritten
	Depths    []float32 // luminance depth in [0, 0.5], never rewritten

	colorsDirty bool
}

// Luminance is the perceptual brightness of an RGB triple in [0,1].
func Luminance(r, g, b float32) float32 {
	return 0.299*r + 0.587*g + 0.114*b
}

// Build converts a grid in row-major order. Hidden points keep their slot,
// colors, depth and size; only their position moves to the sentinel.
func Build(grid *sampler.Grid, p Params) *Buffer {
	w, h := grid.Width, grid.Height
	n := w * h
	buf := &Buffer{
		Width:     w,
		Height:    h,
		Positions: make([]float32, n*3),
		Colors:    make([]float32, n*3),
		Sizes:     make([]float32, n),
		Originals: make([]float32, n*3),
		Depths:    make([]float32, n),
	}

	fw, fh := float32(w), float32(h)
	for i := 0; i < n; i++ {
		x := float32(i%w)/fw - 0.5
		y := 0.5 - float32(i/w)/fh // flip: row 0 is the top of the image

		r := float32(grid.Pix[i*4]) / 255
		g := float32(grid.Pix[i*4+1]) / 255
		b := float32(grid.Pix[i*4+2]) / 255
		a := float32(grid.Pix[i*4+3]) / 255

		lum := Luminance(r, g, b)
		z := lum * depthScale

		if a > p.AlphaThreshold {
			buf.Positions[i*3] = x * p.Spread
			buf.Positions[i*3+1] = y * p.Spread
			buf.Positions[i*3+2] = z
		} else {
			buf.Positions[i*3] = Sentinel
			buf.Positions[i*3+1] = Sentinel
			buf.Positions[i*3+2] = Sentinel
		}

		buf.Colors[i*3], buf.Colors[i*3+1], buf.Colors[i*3+2] = r, g, b
		buf.Originals[i*3], buf.Originals[i*3+1], buf.Originals[i*3+2] = r, g, b
		buf.Depths[i] = z
		buf.Sizes[i] = (sizeBase + lum) * sizeScale
	}
	return buf
}

// Len is the number of point slots.
func (b *Buffer) Len() int {
	return len(b.Sizes)
}

// Visible reports whether point i is not parked at the sentinel.
func (b *Buffer) Visible(i int) bool {
	return b.Positions[i*3] != Sentinel
}

// MarkColorsDirty flags the live colors for re-upload.
func (b *Buffer) MarkColorsDirty() {
	b.colorsDirty = true
}

// TakeColorsDirty returns and clears the dirty flag.
func (b *Buffer) TakeColorsDirty() bool {
	d := b.colorsDirty
	b.colorsDirty = false
	return d
}

// Box is an axis-aligned bounding box.
type Box struct {
	Min, Max [3]float32
}

// Bounds returns the box around visible points. ok is false when every
// point is hidden.
func (b *Buffer) Bounds() (box Box, ok bool) {
	for k := 0; k < 3; k++ {
		box.Min[k] = math.MaxFloat32
		box.Max[k] = -math.MaxFloat32
	}
	for i := 0; i < b.Len(); i++ {
		if !b.Visible(i) {
			continue
		}
		ok = true
		for k := 0; k < 3; k++ {
			v := b.Positions[i*3+k]
			if v < box.Min[k] {
				box.Min[k] = v
			}
			if v > box.Max[k] {
				box.Max[k] = v
			}
		}
	}
	if !ok {
		return Box{}, false
	}
	return box, true
}

// Stats summarizes a cloud for display.
type Stats struct {
	Points    int
	Visible   int
	MinDepth  float32
	MaxDepth  float32
	MeanDepth float32
}

// Stats computes point counts and depth range over visible points.
func (b *Buffer) Stats() Stats {
	s := Stats{Points: b.Len()}
	var sum float64
	for i := 0; i < b.Len(); i++ {
		if !b.Visible(i) {
			continue
		}
		d := b.Depths[i]
		if s.Visible == 0 || d < s.MinDepth {
			s.MinDepth = d
		}
		if s.Visible == 0 || d > s.MaxDepth {
			s.MaxDepth = d
		}
		s.Visible++
		sum += float64(d)
	}
	if s.Visible > 0 {
		s.MeanDepth = float32(sum / float64(s.Visible))
	}
	return s
}
