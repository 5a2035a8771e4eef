// Package raster is a CPU implementation of gpu.Backend: a point-sprite
// shader pipeline and line renderer over a flat RGBA framebuffer.
package raster

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"phenoviewer/internal/gpu"
	"phenoviewer/internal/mathutil"
)

type geometry struct {
	positions []float32
	colors    []float32
	sizes     []float32
}

type mesh struct {
	geometry gpu.Handle
	material gpu.Handle
}

type grid struct {
	segs   [][2]mathutil.Vec3
	colors []color.NRGBA
}

// Backend renders frames on the CPU. All methods are safe for concurrent use.
type Backend struct {
	mu     sync.Mutex
	fb     *FrameBuffer
	sprite *image.NRGBA
	closed bool

	next       gpu.Handle
	geometries map[gpu.Handle]*geometry
	materials  map[gpu.Handle]gpu.Uniforms
	meshes     map[gpu.Handle]mesh
	grids      map[gpu.Handle]*grid
}

// New creates a backend with a width×height framebuffer. A degenerate
// viewport means no drawable surface exists.
func New(width, height int) (*Backend, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("raster: viewport %dx%d: %w", width, height, gpu.ErrUnsupportedAcceleratedRendering)
	}
	return &Backend{
		fb:         NewFrameBuffer(width, height),
		sprite:     NewDiscSprite(spriteSize),
		geometries: make(map[gpu.Handle]*geometry),
		materials:  make(map[gpu.Handle]gpu.Uniforms),
		meshes:     make(map[gpu.Handle]mesh),
		grids:      make(map[gpu.Handle]*grid),
	}, nil
}

func (b *Backend) alloc() (gpu.Handle, error) {
	if b.closed {
		return 0, gpu.ErrClosed
	}
	b.next++
	return b.next, nil
}

func (b *Backend) CreateGeometry(positions, colors, sizes []float32) (gpu.Handle, error) {
	if len(positions) != 3*len(sizes) || len(colors) != len(positions) {
		return 0, fmt.Errorf("raster: attribute lengths %d/%d/%d disagree", len(positions), len(colors), len(sizes))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h, err := b.alloc()
	if err != nil {
		return 0, err
	}
	b.geometries[h] = &geometry{
		positions: append([]float32(nil), positions...),
		colors:    append([]float32(nil), colors...),
		sizes:     append([]float32(nil), sizes...),
	}
	return h, nil
}

func (b *Backend) UploadColors(h gpu.Handle, colors []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return gpu.ErrClosed
	}
	g, ok := b.geometries[h]
	if !ok {
		return fmt.Errorf("raster: upload colors to %d: %w", h, gpu.ErrUnknownHandle)
	}
	if len(colors) != len(g.colors) {
		return fmt.Errorf("raster: upload %d colors into attribute of %d", len(colors), len(g.colors))
	}
	copy(g.colors, colors)
	return nil
}

func (b *Backend) CreateMaterial(u gpu.Uniforms) (gpu.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, err := b.alloc()
	if err != nil {
		return 0, err
	}
	b.materials[h] = u
	return h, nil
}

func (b *Backend) SetUniforms(h gpu.Handle, u gpu.Uniforms) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return gpu.ErrClosed
	}
	if _, ok := b.materials[h]; !ok {
		return fmt.Errorf("raster: set uniforms on %d: %w", h, gpu.ErrUnknownHandle)
	}
	b.materials[h] = u
	return nil
}

func (b *Backend) CreateMesh(geom, mat gpu.Handle) (gpu.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.geometries[geom]; !ok {
		return 0, fmt.Errorf("raster: mesh geometry %d: %w", geom, gpu.ErrUnknownHandle)
	}
	if _, ok := b.materials[mat]; !ok {
		return 0, fmt.Errorf("raster: mesh material %d: %w", mat, gpu.ErrUnknownHandle)
	}
	h, err := b.alloc()
	if err != nil {
		return 0, err
	}
	b.meshes[h] = mesh{geometry: geom, material: mat}
	return h, nil
}

func (b *Backend) CreateGrid(spec gpu.GridSpec) (gpu.Handle, error) {
	segs, cols := GridSegments(spec)
	b.mu.Lock()
	defer b.mu.Unlock()
	h, err := b.alloc()
	if err != nil {
		return 0, err
	}
	b.grids[h] = &grid{segs: segs, colors: cols}
	return h, nil
}

// Release frees a handle. Releasing a mesh does not release its geometry or
// material.
func (b *Backend) Release(h gpu.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return gpu.ErrClosed
	}
	if _, ok := b.geometries[h]; ok {
		delete(b.geometries, h)
		return nil
	}
	if _, ok := b.materials[h]; ok {
		delete(b.materials, h)
		return nil
	}
	if _, ok := b.meshes[h]; ok {
		delete(b.meshes, h)
		return nil
	}
	if _, ok := b.grids[h]; ok {
		delete(b.grids, h)
		return nil
	}
	return fmt.Errorf("raster: release %d: %w", h, gpu.ErrUnknownHandle)
}

// Render clears the framebuffer and draws the frame's list in order.
func (b *Backend) Render(f gpu.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return gpu.ErrClosed
	}

	b.fb.Clear(f.Clear)
	for _, d := range f.Draws {
		modelView := mathutil.Mat4Mul(f.View, d.Model)
		if g, ok := b.grids[d.Handle]; ok {
			mvp := mathutil.Mat4Mul(f.Projection, modelView)
			for i, s := range g.segs {
				DrawLine(b.fb, s[0], s[1], g.colors[i], mvp, f.Fog)
			}
			continue
		}
		m, ok := b.meshes[d.Handle]
		if !ok {
			return fmt.Errorf("raster: draw %d: %w", d.Handle, gpu.ErrUnknownHandle)
		}
		geom, ok := b.geometries[m.geometry]
		if !ok {
			return fmt.Errorf("raster: mesh %d geometry %d: %w", d.Handle, m.geometry, gpu.ErrUnknownHandle)
		}
		u, ok := b.materials[m.material]
		if !ok {
			return fmt.Errorf("raster: mesh %d material %d: %w", d.Handle, m.material, gpu.ErrUnknownHandle)
		}
		DrawPoints(b.fb, geom.positions, geom.colors, geom.sizes, u, modelView, f.Projection, float32(f.PixelRatio), b.sprite)
	}
	return nil
}

// ReadPixels returns a copy of the current framebuffer.
func (b *Backend) ReadPixels() (*image.NRGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, gpu.ErrClosed
	}
	return b.fb.Image(), nil
}

func (b *Backend) Viewport() (int, int) {
	return b.fb.Width, b.fb.Height
}

func (b *Backend) Stats() gpu.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return gpu.Stats{
		Geometries: len(b.geometries),
		Materials:  len(b.materials),
		Meshes:     len(b.meshes),
		Grids:      len(b.grids),
	}
}

// Close drops every resource. Further calls fail with gpu.ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.geometries = map[gpu.Handle]*geometry{}
	b.materials = map[gpu.Handle]gpu.Uniforms{}
	b.meshes = map[gpu.Handle]mesh{}
	b.grids = map[gpu.Handle]*grid{}
	return nil
}

var _ gpu.Backend = (*Backend)(nil)
