// Package sampler fetches and decodes a still image of any resolution and
// resamples it onto a fixed square RGBA grid.
package sampler

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	_ "github.com/ftrvxmtrx/tga"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultSize is the edge length of the sampling grid.
const DefaultSize = 300

// Sampler draws source images onto a Size×Size surface.
type Sampler struct {
	Size   int
	Client *http.Client
}

// New returns a sampler for a size×size grid. Non-positive sizes use
// DefaultSize.
func New(size int, timeout time.Duration) *Sampler {
	if size <= 0 {
		size = DefaultSize
	}
	return &Sampler{Size: size, Client: &http.Client{Timeout: timeout}}
}

// Sample fetches, decodes and resamples src. On failure it returns a
// *DecodeError and no grid.
func (s *Sampler) Sample(ctx context.Context, src Source) (*Grid, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	data, err := fetch(ctx, client, src)
	if err != nil {
		return nil, &DecodeError{Ref: src.String(), Err: err}
	}
	img, err := Decode(data)
	if err != nil {
		return nil, &DecodeError{Ref: src.String(), Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &DecodeError{Ref: src.String(), Err: err}
	}
	return Resample(img, s.Size), nil
}

// Decode decodes any registered format (JPEG, PNG, GIF, TGA, WebP, BMP, TIFF).
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("image has no pixels")
	}
	return img, nil
}

// Resample stretches img onto a size×size grid with bilinear filtering on
// premultiplied alpha, so transparent edges do not bleed dark fringes, then
// un-premultiplies. Images already size×size are copied exactly.
func Resample(img image.Image, size int) *Grid {
	b := img.Bounds()
	premul := image.NewRGBA(image.Rect(0, 0, size, size))
	if b.Dx() == size && b.Dy() == size {
		draw.Draw(premul, premul.Bounds(), img, b.Min, draw.Src)
	} else {
		xdraw.BiLinear.Scale(premul, premul.Bounds(), img, b, xdraw.Src, nil)
	}

	pix := make([]uint8, size*size*4)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			si := premul.PixOffset(x, y)
			di := (y*size + x) * 4
			a := premul.Pix[si+3]
			if a == 0 {
				continue
			}
			if a == 255 {
				copy(pix[di:di+4], premul.Pix[si:si+4])
				continue
			}
			inv := 255.0 / float64(a)
			pix[di] = clamp8(float64(premul.Pix[si]) * inv)
			pix[di+1] = clamp8(float64(premul.Pix[si+1]) * inv)
			pix[di+2] = clamp8(float64(premul.Pix[si+2]) * inv)
			pix[di+3] = a
		}
	}
	return &Grid{Width: size, Height: size, Pix: pix}
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
