// Package engine owns the camera, orbit controls and per-image scene
// resources, and turns them into frames on a gpu.Backend.
package engine

import (
	"fmt"
	"image"
	"image/color"

	"go.uber.org/zap"

	"phenoviewer/internal/cloud"
	"phenoviewer/internal/colormode"
	"phenoviewer/internal/gpu"
	"phenoviewer/internal/mathutil"
)

// Options configure the camera and scene dressing.
type Options struct {
	FOV            float64
	Near           float64
	Far            float64
	CameraPosition mathutil.Vec3
	Damping        float64
	AutoRotateStep float64 // radians per frame
	Background     color.NRGBA
	Fog            gpu.Fog
	Grid           gpu.GridSpec
	PixelRatio     float64 // >1 when rendering supersampled captures
}

// DefaultOptions returns the stock viewer look.
func DefaultOptions() Options {
	bg := color.NRGBA{R: 0x11, G: 0x18, B: 0x27, A: 0xff}
	return Options{
		FOV:            60,
		Near:           0.1,
		Far:            100,
		CameraPosition: mathutil.Vec3{0, -1, 3},
		Damping:        0.05,
		AutoRotateStep: 0.002,
		PixelRatio:     1,
		Background:     bg,
		Fog:            gpu.Fog{Color: bg, Density: 0.05},
		Grid: gpu.GridSpec{
			Size:        5,
			Divisions:   20,
			Y:           -1.5,
			CenterColor: color.NRGBA{R: 0x4b, G: 0x55, B: 0x63, A: 0xff},
			LineColor:   color.NRGBA{R: 0x1f, G: 0x29, B: 0x37, A: 0xff},
		},
	}
}

// Engine renders scenes. Apart from BuildScene, which only talks to the
// (concurrency-safe) backend, methods must be called from one goroutine at
// a time.
type Engine struct {
	backend  gpu.Backend
	opts     Options
	camera   Camera
	controls *OrbitControls
	log      *zap.Logger
}

// New wraps a backend. A nil backend means there is no rendering context.
func New(backend gpu.Backend, opts Options, log *zap.Logger) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("engine: nil backend: %w", gpu.ErrUnsupportedAcceleratedRendering)
	}
	if log == nil {
		log = zap.NewNop()
	}
	w, h := backend.Viewport()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("engine: viewport %dx%d: %w", w, h, gpu.ErrUnsupportedAcceleratedRendering)
	}
	e := &Engine{
		backend:  backend,
		opts:     opts,
		controls: NewOrbitControls(h, opts.Damping),
		log:      log,
	}
	e.ResetCamera()
	return e, nil
}

// ResetCamera restores the starting viewpoint and drops pending motion.
func (e *Engine) ResetCamera() {
	w, h := e.backend.Viewport()
	e.camera = Camera{
		FOV:      e.opts.FOV,
		Aspect:   float64(w) / float64(h),
		Near:     e.opts.Near,
		Far:      e.opts.Far,
		Position: e.opts.CameraPosition,
		Up:       mathutil.Vec3{0, 1, 0},
	}
	e.controls = NewOrbitControls(h, e.opts.Damping)
}

// Camera returns a copy of the current camera.
func (e *Engine) Camera() Camera {
	return e.camera
}

// Controls exposes the orbit controls for input.
func (e *Engine) Controls() *OrbitControls {
	return e.controls
}

// BuildScene uploads buf and creates the material, mesh and grid. On any
// failure the handles acquired so far are released before returning.
func (e *Engine) BuildScene(buf *cloud.Buffer) (*Scene, error) {
	s := &Scene{Buffer: buf, Mode: colormode.RGB, backend: e.backend}
	var err error
	defer func() {
		if err != nil {
			_ = s.Dispose()
		}
	}()

	if s.Geometry, err = e.backend.CreateGeometry(buf.Positions, buf.Colors, buf.Sizes); err != nil {
		return nil, fmt.Errorf("engine: create geometry: %w", err)
	}
	if s.Material, err = e.backend.CreateMaterial(colormode.RGB.Uniforms()); err != nil {
		return nil, fmt.Errorf("engine: create material: %w", err)
	}
	if s.Mesh, err = e.backend.CreateMesh(s.Geometry, s.Material); err != nil {
		return nil, fmt.Errorf("engine: create mesh: %w", err)
	}
	if s.Grid, err = e.backend.CreateGrid(e.opts.Grid); err != nil {
		return nil, fmt.Errorf("engine: create grid: %w", err)
	}

	e.log.Debug("scene built",
		zap.Int("points", buf.Len()),
		zap.Uint32("geometry", uint32(s.Geometry)),
		zap.Uint32("mesh", uint32(s.Mesh)))
	return s, nil
}

// ApplyMode recolors the scene's cloud and switches its material uniforms.
func (e *Engine) ApplyMode(s *Scene, m colormode.Mode) error {
	if s.Disposed() {
		return ErrSceneDisposed
	}
	u, err := colormode.Apply(s.Buffer, m)
	if err != nil {
		return err
	}
	if err := e.backend.SetUniforms(s.Material, u); err != nil {
		return fmt.Errorf("engine: set uniforms: %w", err)
	}
	s.Mode = m
	return nil
}

// Frame advances one display refresh: integrate camera motion, advance
// auto-rotation, draw.
func (e *Engine) Frame(s *Scene, autoRotate bool) error {
	e.controls.Update(&e.camera)
	if autoRotate {
		s.Rotation += e.opts.AutoRotateStep
	}
	return e.Render(s)
}

// Render draws s from the current camera without advancing any motion.
func (e *Engine) Render(s *Scene) error {
	if s.Disposed() {
		return ErrSceneDisposed
	}
	if s.Buffer.TakeColorsDirty() {
		if err := e.backend.UploadColors(s.Geometry, s.Buffer.Colors); err != nil {
			s.Buffer.MarkColorsDirty()
			return fmt.Errorf("engine: upload colors: %w", err)
		}
	}
	f := gpu.Frame{
		View:       e.camera.View(),
		Projection: e.camera.Projection(),
		Clear:      e.opts.Background,
		Fog:        e.opts.Fog,
		PixelRatio: e.opts.PixelRatio,
		Draws: []gpu.Draw{
			{Handle: s.Grid, Model: mathutil.Mat4Identity()},
			{Handle: s.Mesh, Model: mathutil.RotationY(s.Rotation)},
		},
	}
	if err := e.backend.Render(f); err != nil {
		return fmt.Errorf("engine: render: %w", err)
	}
	return nil
}

// Snapshot renders s once and reads the framebuffer back.
func (e *Engine) Snapshot(s *Scene) (*image.NRGBA, error) {
	if err := e.Render(s); err != nil {
		return nil, err
	}
	img, err := e.backend.ReadPixels()
	if err != nil {
		return nil, fmt.Errorf("engine: read pixels: %w", err)
	}
	return img, nil
}
