package raster

import (
	"image/color"
	"math"

	"phenoviewer/internal/gpu"
	"phenoviewer/internal/mathutil"
)

// clipEpsilon keeps line endpoints strictly in front of the camera.
const clipEpsilon = 1e-3

// GridSegments expands a grid spec into line endpoints and colors, the same
// layout as a three.js GridHelper: Divisions+1 lines along each axis, the
// middle pair in the center color.
func GridSegments(spec gpu.GridSpec) ([][2]mathutil.Vec3, []color.NRGBA) {
	n := spec.Divisions
	if n <= 0 {
		n = 1
	}
	half := spec.Size / 2
	step := spec.Size / float64(n)

	segs := make([][2]mathutil.Vec3, 0, 2*(n+1))
	cols := make([]color.NRGBA, 0, 2*(n+1))
	for i := 0; i <= n; i++ {
		k := -half + float64(i)*step
		c := spec.LineColor
		if i == n/2 {
			c = spec.CenterColor
		}
		segs = append(segs,
			[2]mathutil.Vec3{{-half, spec.Y, k}, {half, spec.Y, k}},
			[2]mathutil.Vec3{{k, spec.Y, -half}, {k, spec.Y, half}},
		)
		cols = append(cols, c, c)
	}
	return segs, cols
}

// DrawLine rasterizes an opaque, depth-tested and depth-writing segment with
// exp2 fog applied per pixel.
func DrawLine(fb *FrameBuffer, a, b mathutil.Vec3, c color.NRGBA, mvp mathutil.Mat4, fog gpu.Fog) {
	ca := mvp.MulVec4(a.Point())
	cb := mvp.MulVec4(b.Point())

	// Near clip in homogeneous space.
	if ca[3] < clipEpsilon && cb[3] < clipEpsilon {
		return
	}
	if ca[3] < clipEpsilon {
		ca = clipToW(cb, ca)
	} else if cb[3] < clipEpsilon {
		cb = clipToW(ca, cb)
	}

	w, h := float64(fb.Width), float64(fb.Height)
	x0 := (ca[0]/ca[3] + 1) * 0.5 * w
	y0 := (1 - ca[1]/ca[3]) * 0.5 * h
	z0 := ca[2] / ca[3]
	x1 := (cb[0]/cb[3] + 1) * 0.5 * w
	y1 := (1 - cb[1]/cb[3]) * 0.5 * h
	z1 := cb[2] / cb[3]

	steps := int(math.Ceil(math.Max(math.Abs(x1-x0), math.Abs(y1-y0))))
	if steps < 1 {
		steps = 1
	}
	// Guard against absurd lengths from nearly-clipped endpoints.
	if steps > 4*(fb.Width+fb.Height) {
		steps = 4 * (fb.Width + fb.Height)
	}

	cr, cg, cbl := float64(c.R), float64(c.G), float64(c.B)
	fr, fgc, fbc := float64(fog.Color.R), float64(fog.Color.G), float64(fog.Color.B)

	for s := 0; s <= steps; s++ {
		t := float64(s) / float64(steps)
		px := int(x0 + (x1-x0)*t)
		py := int(y0 + (y1-y0)*t)
		if px < 0 || py < 0 || px >= fb.Width || py >= fb.Height {
			continue
		}
		z := z0 + (z1-z0)*t
		if z < -1 || z > 1 {
			continue
		}
		zIdx := py*fb.Width + px
		if z >= fb.ZBuf[zIdx] {
			continue
		}
		fb.ZBuf[zIdx] = z

		depth := ca[3] + (cb[3]-ca[3])*t
		f := 0.0
		if fog.Density > 0 {
			d := fog.Density * depth
			f = 1 - math.Exp(-d*d)
		}

		pxIdx := zIdx * 4
		fb.Color[pxIdx] = clamp255(cr + (fr-cr)*f)
		fb.Color[pxIdx+1] = clamp255(cg + (fgc-cg)*f)
		fb.Color[pxIdx+2] = clamp255(cbl + (fbc-cbl)*f)
		fb.Color[pxIdx+3] = 255
	}
}

// clipToW moves the outside endpoint along the segment until w == clipEpsilon.
func clipToW(in, out mathutil.Vec4) mathutil.Vec4 {
	t := (in[3] - clipEpsilon) / (in[3] - out[3])
	var r mathutil.Vec4
	for k := 0; k < 4; k++ {
		r[k] = in[k] + (out[k]-in[k])*t
	}
	return r
}
