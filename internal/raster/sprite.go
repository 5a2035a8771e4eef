package raster

import (
	"image"
	"math"
)

// spriteSize is the edge length of the generated point sprite.
const spriteSize = 32

// NewDiscSprite builds a white disc with a soft edge: fully opaque inside
// 70% of the radius, fading to zero at the rim.
func NewDiscSprite(size int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	c := float64(size-1) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := (float64(x) - c) / c
			dy := (float64(y) - c) / c
			d := math.Sqrt(dx*dx + dy*dy)
			t := (1 - d) / 0.3
			if t > 1 {
				t = 1
			}
			a := 0.0
			if t > 0 {
				a = t * t * (3 - 2*t) // smoothstep
			}
			i := img.PixOffset(x, y)
			img.Pix[i] = 255
			img.Pix[i+1] = 255
			img.Pix[i+2] = 255
			img.Pix[i+3] = clamp255(a * 255)
		}
	}
	return img
}
