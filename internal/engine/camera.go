package engine

import (
	"math"

	"phenoviewer/internal/mathutil"
)

// Camera is a perspective camera that always looks at Target.
type Camera struct {
	FOV      float64 // vertical, degrees
	Aspect   float64
	Near     float64
	Far      float64
	Position mathutil.Vec3
	Target   mathutil.Vec3
	Up       mathutil.Vec3
}

// View returns the world-to-view matrix.
func (c *Camera) View() mathutil.Mat4 {
	return mathutil.LookAt(c.Position, c.Target, c.Up)
}

// Projection returns the view-to-clip matrix.
func (c *Camera) Projection() mathutil.Mat4 {
	return mathutil.Perspective(mathutil.Deg2Rad(c.FOV), c.Aspect, c.Near, c.Far)
}

// OrbitControls rotates the camera around its target. Input accumulates an
// angular velocity; each Update applies a Damping fraction of it and decays
// the rest, so motion eases out after the pointer is released.
type OrbitControls struct {
	Damping     float64
	RotateSpeed float64
	MinRadius   float64
	MaxRadius   float64

	height float64
	dTheta float64
	dPhi   float64
	scale  float64
}

const (
	polarEpsilon = 1e-6
	restVelocity = 1e-9
	zoomBase     = 0.95
)

// NewOrbitControls creates controls for a viewport of the given pixel height.
func NewOrbitControls(viewportHeight int, damping float64) *OrbitControls {
	if viewportHeight <= 0 {
		viewportHeight = 1
	}
	return &OrbitControls{
		Damping:     damping,
		RotateSpeed: 1,
		MinRadius:   0.5,
		MaxRadius:   50,
		height:      float64(viewportHeight),
		scale:       1,
	}
}

// Drag adds a pointer drag of (dx, dy) pixels. A drag across the full
// viewport height turns the camera once around.
func (c *OrbitControls) Drag(dx, dy float64) {
	c.dTheta -= 2 * math.Pi * dx / c.height * c.RotateSpeed
	c.dPhi -= 2 * math.Pi * dy / c.height * c.RotateSpeed
}

// Zoom dollies in for positive steps and out for negative ones.
func (c *OrbitControls) Zoom(steps float64) {
	c.scale *= math.Pow(zoomBase, steps)
}

// Velocity returns the pending azimuth and polar deltas.
func (c *OrbitControls) Velocity() (dTheta, dPhi float64) {
	return c.dTheta, c.dPhi
}

// Update integrates one frame into cam and reports whether it moved.
func (c *OrbitControls) Update(cam *Camera) bool {
	offset := cam.Position.Sub(cam.Target)
	s := mathutil.ToSpherical(offset)
	before := s

	s.Theta += c.dTheta * c.Damping
	s.Phi += c.dPhi * c.Damping
	s.Phi = mathutil.Clamp(s.Phi, polarEpsilon, math.Pi-polarEpsilon)
	s.Radius = mathutil.Clamp(s.Radius*c.scale, c.MinRadius, c.MaxRadius)
	c.scale = 1

	c.dTheta *= 1 - c.Damping
	c.dPhi *= 1 - c.Damping
	if math.Abs(c.dTheta) < restVelocity {
		c.dTheta = 0
	}
	if math.Abs(c.dPhi) < restVelocity {
		c.dPhi = 0
	}

	if s == before {
		return false
	}
	cam.Position = cam.Target.Add(s.Vec3())
	return true
}
