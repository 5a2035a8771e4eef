package mathutil

import "math"

// Spherical is a point in Y-up spherical coordinates. Phi is the polar angle
// from +Y, Theta the azimuth around Y measured from +Z towards +X.
type Spherical struct {
	Radius float64
	Phi    float64
	Theta  float64
}

// ToSpherical converts a Y-up offset vector.
func ToSpherical(v Vec3) Spherical {
	r := v.Len()
	if r == 0 {
		return Spherical{}
	}
	return Spherical{
		Radius: r,
		Theta:  math.Atan2(v[0], v[2]),
		Phi:    math.Acos(Clamp(v[1]/r, -1, 1)),
	}
}

// Vec3 converts back to a Cartesian offset.
func (s Spherical) Vec3() Vec3 {
	sp := math.Sin(s.Phi) * s.Radius
	return Vec3{
		sp * math.Sin(s.Theta),
		math.Cos(s.Phi) * s.Radius,
		sp * math.Cos(s.Theta),
	}
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
