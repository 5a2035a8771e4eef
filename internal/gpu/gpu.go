// Package gpu defines the contract between the render engine and a rendering
// backend: resource handles, per-frame draw descriptions and pixel readback.
package gpu

import (
	"errors"
	"image"
	"image/color"

	"phenoviewer/internal/mathutil"
)

var (
	// ErrUnsupportedAcceleratedRendering is returned when no usable rendering
	// context can be created. It is fatal for the viewer.
	ErrUnsupportedAcceleratedRendering = errors.New("gpu: no usable rendering context")

	// ErrUnknownHandle is returned for handles that were never created or
	// have already been released.
	ErrUnknownHandle = errors.New("gpu: unknown handle")

	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("gpu: backend closed")
)

// Handle identifies a backend resource. Zero is never a valid handle.
type Handle uint32

// Kind is the resource type behind a handle.
type Kind uint8

const (
	KindGeometry Kind = iota + 1
	KindMaterial
	KindMesh
	KindGrid
)

func (k Kind) String() string {
	switch k {
	case KindGeometry:
		return "geometry"
	case KindMaterial:
		return "material"
	case KindMesh:
		return "mesh"
	case KindGrid:
		return "grid"
	}
	return "unknown"
}

// Blend selects how fragments combine with the framebuffer.
type Blend uint8

const (
	// BlendNormal is standard source-over alpha blending.
	BlendNormal Blend = iota
	// BlendAdditive accumulates src*alpha onto the destination.
	BlendAdditive
)

func (b Blend) String() string {
	if b == BlendAdditive {
		return "additive"
	}
	return "normal"
}

// Uniforms are the per-material values shared by every point of a mesh.
type Uniforms struct {
	Blend   Blend
	Opacity float32
}

// GridSpec describes an XZ-plane reference grid.
type GridSpec struct {
	Size        float64
	Divisions   int
	Y           float64
	CenterColor color.NRGBA
	LineColor   color.NRGBA
}

// Fog is exponential-squared distance fog.
type Fog struct {
	Color   color.NRGBA
	Density float64
}

// Draw places one mesh or grid into the frame.
type Draw struct {
	Handle Handle
	Model  mathutil.Mat4
}

// Frame is everything the backend needs to produce one image.
type Frame struct {
	View       mathutil.Mat4
	Projection mathutil.Mat4
	Clear      color.NRGBA
	Fog        Fog
	Draws      []Draw

	// PixelRatio is framebuffer pixels per display pixel. Zero means 1.
	PixelRatio float64
}

// Stats counts live resources by kind.
type Stats struct {
	Geometries int
	Materials  int
	Meshes     int
	Grids      int
}

// Live is the total number of live handles.
func (s Stats) Live() int {
	return s.Geometries + s.Materials + s.Meshes + s.Grids
}

// Backend is a rendering context. Implementations must be safe for
// concurrent use: scenes are built off the frame loop goroutine.
//
// Buffers passed to Create/Upload calls are copied; later writes by the
// caller are not visible until uploaded again.
type Backend interface {
	CreateGeometry(positions, colors, sizes []float32) (Handle, error)
	UploadColors(geometry Handle, colors []float32) error
	CreateMaterial(u Uniforms) (Handle, error)
	SetUniforms(material Handle, u Uniforms) error
	CreateMesh(geometry, material Handle) (Handle, error)
	CreateGrid(spec GridSpec) (Handle, error)
	Release(h Handle) error

	Render(f Frame) error
	ReadPixels() (*image.NRGBA, error)
	Viewport() (width, height int)

	Stats() Stats
	Close() error
}
