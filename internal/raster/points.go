package raster

import (
	"image"
	"math"

	"phenoviewer/internal/gpu"
	"phenoviewer/internal/mathutil"
)

const (
	// pointScale converts attribute size to pixels at unit view distance.
	pointScale = 300.0
	// alphaCutoff discards sprite fragments fainter than this.
	alphaCutoff = 0.1
	maxPointSize = 64.0
)

// PointSize is the vertex stage size rule: on-screen size shrinks inversely
// with view-space depth. viewZ is negative in front of the camera. The result
// is in device pixels; both clamps scale with pixelRatio so a supersampled
// target matches the 1x view after downsampling.
func PointSize(size float32, viewZ float64, pixelRatio float32) float64 {
	pr := float64(pixelRatio)
	if pr <= 0 {
		pr = 1
	}
	ps := float64(size) * pr * pointScale / math.Abs(viewZ)
	if ps < pr {
		return pr
	}
	if ps > maxPointSize*pr {
		return maxPointSize * pr
	}
	return ps
}

// DrawPoints rasterizes every point of a geometry as a textured sprite.
// pixelRatio scales sprite sizes for supersampled targets.
// Points are depth-tested against what is already in the buffer but never
// write depth, so overlapping translucent sprites all contribute.
//
// Hot path: no allocation inside the loops.
func DrawPoints(
	fb *FrameBuffer,
	positions, colors, sizes []float32,
	u gpu.Uniforms,
	modelView, proj mathutil.Mat4,
	pixelRatio float32,
	sprite *image.NRGBA,
) {
	if pixelRatio <= 0 {
		pixelRatio = 1
	}
	n := len(sizes)
	w, h := float64(fb.Width), float64(fb.Height)
	opacity := float64(u.Opacity)
	additive := u.Blend == gpu.BlendAdditive

	for i := 0; i < n; i++ {
		p := mathutil.Vec3{float64(positions[i*3]), float64(positions[i*3+1]), float64(positions[i*3+2])}
		view := modelView.MulVec4(p.Point())
		clip := proj.MulVec4(view)
		if clip[3] <= 0 {
			continue
		}
		invW := 1 / clip[3]
		z := clip[2] * invW
		if z < -1 || z > 1 {
			continue
		}
		sx := (clip[0]*invW + 1) * 0.5 * w
		sy := (1 - clip[1]*invW) * 0.5 * h

		ps := PointSize(sizes[i], view[2], pixelRatio)
		half := ps / 2
		left, top := sx-half, sy-half

		minX := int(math.Floor(left))
		maxX := int(math.Ceil(sx + half))
		minY := int(math.Floor(top))
		maxY := int(math.Ceil(sy + half))
		if minX < 0 {
			minX = 0
		}
		if minY < 0 {
			minY = 0
		}
		if maxX > fb.Width {
			maxX = fb.Width
		}
		if maxY > fb.Height {
			maxY = fb.Height
		}
		if minX >= maxX || minY >= maxY {
			continue
		}

		cr := float64(colors[i*3])
		cg := float64(colors[i*3+1])
		cb := float64(colors[i*3+2])
		invPS := 1 / ps

		for py := minY; py < maxY; py++ {
			pv := (float64(py) + 0.5 - top) * invPS
			if pv < 0 || pv >= 1 {
				continue
			}
			rowOff := py * fb.Width
			for px := minX; px < maxX; px++ {
				pu := (float64(px) + 0.5 - left) * invPS
				if pu < 0 || pu >= 1 {
					continue
				}
				zIdx := rowOff + px
				if z > fb.ZBuf[zIdx] {
					continue
				}

				tr, tg, tb, ta := SampleTexture(sprite, pu, pv)
				a := opacity * ta
				if a < alphaCutoff {
					continue
				}
				fr, fg, fbl := cr*tr, cg*tg, cb*tb

				pxIdx := zIdx * 4
				dr := float64(fb.Color[pxIdx]) / 255
				dg := float64(fb.Color[pxIdx+1]) / 255
				db := float64(fb.Color[pxIdx+2]) / 255
				if additive {
					dr += fr * a
					dg += fg * a
					db += fbl * a
				} else {
					dr = fr*a + dr*(1-a)
					dg = fg*a + dg*(1-a)
					db = fbl*a + db*(1-a)
				}
				fb.Color[pxIdx] = clamp255(dr * 255)
				fb.Color[pxIdx+1] = clamp255(dg * 255)
				fb.Color[pxIdx+2] = clamp255(db * 255)
			}
		}
	}
}
