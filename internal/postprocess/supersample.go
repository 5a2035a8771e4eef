// Package postprocess finishes captured frames before encoding.
package postprocess

import (
	"image"

	"golang.org/x/image/draw"
)

// Downsample shrinks a supersampled capture to width×height with a
// Catmull-Rom filter. Filtering happens on premultiplied alpha so
// translucent point edges keep their color instead of fringing dark.
// Images already within the target size are returned unchanged.
func Downsample(img *image.NRGBA, width, height int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() <= width && b.Dy() <= height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), premultiply(img), b, draw.Src, nil)
	return unpremultiply(dst)
}

func premultiply(img *image.NRGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	for i := 0; i+3 < len(img.Pix) && i+3 < len(out.Pix); i += 4 {
		a := float64(img.Pix[i+3]) / 255
		out.Pix[i] = clamp8(float64(img.Pix[i]) * a)
		out.Pix[i+1] = clamp8(float64(img.Pix[i+1]) * a)
		out.Pix[i+2] = clamp8(float64(img.Pix[i+2]) * a)
		out.Pix[i+3] = img.Pix[i+3]
	}
	return out
}

func unpremultiply(img *image.RGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	for i := 0; i+3 < len(img.Pix); i += 4 {
		a := img.Pix[i+3]
		out.Pix[i+3] = a
		if a <= 1 {
			continue
		}
		k := 255 / float64(a)
		out.Pix[i] = clamp8(float64(img.Pix[i]) * k)
		out.Pix[i+1] = clamp8(float64(img.Pix[i+1]) * k)
		out.Pix[i+2] = clamp8(float64(img.Pix[i+2]) * k)
	}
	return out
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
