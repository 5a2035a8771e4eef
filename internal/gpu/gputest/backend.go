// Package gputest provides an in-memory gpu.Backend that records calls and
// counts live handles.
package gputest

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"phenoviewer/internal/gpu"
)

// Backend is a fake rendering context. It never rasterizes; ReadPixels
// returns the viewport filled with the last frame's clear color.
type Backend struct {
	mu sync.Mutex

	width, height int
	next          gpu.Handle
	kinds         map[gpu.Handle]gpu.Kind
	colors        map[gpu.Handle][]float32
	uniforms      map[gpu.Handle]gpu.Uniforms
	closed        bool

	// Fail makes the next Create call of the given kind return the error.
	Fail map[gpu.Kind]error
	// FailRelease makes the next Release of the given kind return the error
	// and leave the handle live.
	FailRelease map[gpu.Kind]error

	Created  map[gpu.Kind]int
	Released map[gpu.Kind]int
	Uploads  int
	Frames   []gpu.Frame
}

// New returns a fake backend with the given viewport.
func New(width, height int) *Backend {
	return &Backend{
		width:    width,
		height:   height,
		kinds:    make(map[gpu.Handle]gpu.Kind),
		colors:   make(map[gpu.Handle][]float32),
		uniforms: make(map[gpu.Handle]gpu.Uniforms),
		Fail:        make(map[gpu.Kind]error),
		FailRelease: make(map[gpu.Kind]error),
		Created:     make(map[gpu.Kind]int),
		Released:    make(map[gpu.Kind]int),
	}
}

func (b *Backend) create(k gpu.Kind) (gpu.Handle, error) {
	if b.closed {
		return 0, gpu.ErrClosed
	}
	if err, ok := b.Fail[k]; ok && err != nil {
		delete(b.Fail, k)
		return 0, err
	}
	b.next++
	b.kinds[b.next] = k
	b.Created[k]++
	return b.next, nil
}

func (b *Backend) lookup(h gpu.Handle, want gpu.Kind) error {
	if b.closed {
		return gpu.ErrClosed
	}
	k, ok := b.kinds[h]
	if !ok {
		return gpu.ErrUnknownHandle
	}
	if k != want {
		return fmt.Errorf("gputest: handle %d is a %s, want %s", h, k, want)
	}
	return nil
}

func (b *Backend) CreateGeometry(positions, colors, sizes []float32) (gpu.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(positions) != len(colors) || len(positions) != 3*len(sizes) {
		return 0, fmt.Errorf("gputest: attribute length mismatch")
	}
	h, err := b.create(gpu.KindGeometry)
	if err != nil {
		return 0, err
	}
	b.colors[h] = append([]float32(nil), colors...)
	return h, nil
}

func (b *Backend) UploadColors(geometry gpu.Handle, colors []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lookup(geometry, gpu.KindGeometry); err != nil {
		return err
	}
	copy(b.colors[geometry], colors)
	b.Uploads++
	return nil
}

func (b *Backend) CreateMaterial(u gpu.Uniforms) (gpu.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, err := b.create(gpu.KindMaterial)
	if err != nil {
		return 0, err
	}
	b.uniforms[h] = u
	return h, nil
}

func (b *Backend) SetUniforms(material gpu.Handle, u gpu.Uniforms) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lookup(material, gpu.KindMaterial); err != nil {
		return err
	}
	b.uniforms[material] = u
	return nil
}

func (b *Backend) CreateMesh(geometry, material gpu.Handle) (gpu.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lookup(geometry, gpu.KindGeometry); err != nil {
		return 0, err
	}
	if err := b.lookup(material, gpu.KindMaterial); err != nil {
		return 0, err
	}
	return b.create(gpu.KindMesh)
}

func (b *Backend) CreateGrid(gpu.GridSpec) (gpu.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.create(gpu.KindGrid)
}

func (b *Backend) Release(h gpu.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return gpu.ErrClosed
	}
	k, ok := b.kinds[h]
	if !ok {
		return gpu.ErrUnknownHandle
	}
	if err, ok := b.FailRelease[k]; ok && err != nil {
		delete(b.FailRelease, k)
		return err
	}
	delete(b.kinds, h)
	delete(b.colors, h)
	delete(b.uniforms, h)
	b.Released[k]++
	return nil
}

func (b *Backend) Render(f gpu.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return gpu.ErrClosed
	}
	for _, d := range f.Draws {
		if _, ok := b.kinds[d.Handle]; !ok {
			return fmt.Errorf("gputest: draw of released handle %d: %w", d.Handle, gpu.ErrUnknownHandle)
		}
	}
	b.Frames = append(b.Frames, f)
	return nil
}

func (b *Backend) ReadPixels() (*image.NRGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, gpu.ErrClosed
	}
	img := image.NewNRGBA(image.Rect(0, 0, b.width, b.height))
	var c color.NRGBA
	if n := len(b.Frames); n > 0 {
		c = b.Frames[n-1].Clear
	}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img, nil
}

func (b *Backend) Viewport() (int, int) {
	return b.width, b.height
}

func (b *Backend) Stats() gpu.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	var s gpu.Stats
	for _, k := range b.kinds {
		switch k {
		case gpu.KindGeometry:
			s.Geometries++
		case gpu.KindMaterial:
			s.Materials++
		case gpu.KindMesh:
			s.Meshes++
		case gpu.KindGrid:
			s.Grids++
		}
	}
	return s
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Colors returns a copy of the uploaded color attribute of a geometry.
func (b *Backend) Colors(geometry gpu.Handle) []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float32(nil), b.colors[geometry]...)
}

// Uniforms returns the uniforms last set on a material.
func (b *Backend) Uniforms(material gpu.Handle) gpu.Uniforms {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uniforms[material]
}

// FrameCount is the number of frames rendered so far.
func (b *Backend) FrameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Frames)
}

// LastFrame returns the most recent frame, if any.
func (b *Backend) LastFrame() (gpu.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Frames) == 0 {
		return gpu.Frame{}, false
	}
	return b.Frames[len(b.Frames)-1], true
}

var _ gpu.Backend = (*Backend)(nil)
