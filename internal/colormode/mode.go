// Package colormode implements the visualization modes of a point cloud.
// A mode rewrites only the live color buffer and the blend uniforms; it
// never touches positions or sizes.
package colormode

import (
	"fmt"
	"math"
	"strings"

	"phenoviewer/internal/cloud"
	"phenoviewer/internal/gpu"
)

// Mode is the closed set of render modes.
type Mode uint8

const (
	RGB Mode = iota
	Heatmap
	XRay
)

// xrayValue is the uniform brightness of every point in x-ray mode.
const xrayValue = 0.8

type variant struct {
	name     string
	uniforms gpu.Uniforms
	recolor  func(buf *cloud.Buffer)
}

var variants = [...]variant{
	RGB: {
		name:     "rgb",
		uniforms: gpu.Uniforms{Blend: gpu.BlendNormal, Opacity: 1},
		recolor:  recolorOriginal,
	},
	Heatmap: {
		name:     "heatmap",
		uniforms: gpu.Uniforms{Blend: gpu.BlendNormal, Opacity: 1},
		recolor:  recolorHeatmap,
	},
	XRay: {
		name:     "xray",
		uniforms: gpu.Uniforms{Blend: gpu.BlendAdditive, Opacity: 0.3},
		recolor:  recolorXRay,
	},
}

// Modes lists every mode in display order.
func Modes() []Mode {
	return []Mode{RGB, Heatmap, XRay}
}

func (m Mode) valid() bool {
	return int(m) < len(variants)
}

func (m Mode) String() string {
	if !m.valid() {
		return fmt.Sprintf("Mode(%d)", m)
	}
	return variants[m].name
}

// Uniforms returns the blend mode and global opacity the mode renders with.
func (m Mode) Uniforms() gpu.Uniforms {
	if !m.valid() {
		return variants[RGB].uniforms
	}
	return variants[m].uniforms
}

// ParseMode accepts "rgb", "heatmap" or "xray" in any case.
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, v := range variants {
		if v.name == name {
			return Mode(i), nil
		}
	}
	return RGB, fmt.Errorf("colormode: unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("colormode: invalid mode %d", m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Apply rewrites buf's live colors for mode m in place, marks them dirty and
// returns the uniforms the material must switch to. O(N), no allocation.
func Apply(buf *cloud.Buffer, m Mode) (gpu.Uniforms, error) {
	if !m.valid() {
		return gpu.Uniforms{}, fmt.Errorf("colormode: invalid mode %d", m)
	}
	v := variants[m]
	v.recolor(buf)
	buf.MarkColorsDirty()
	return v.uniforms, nil
}

func recolorOriginal(buf *cloud.Buffer) {
	copy(buf.Colors, buf.Originals)
}

func recolorHeatmap(buf *cloud.Buffer) {
	for i, d := range buf.Depths {
		r, g, b := HeatmapColor(clamp01(d * 2))
		buf.Colors[i*3] = r
		buf.Colors[i*3+1] = g
		buf.Colors[i*3+2] = b
	}
}

func recolorXRay(buf *cloud.Buffer) {
	for i := range buf.Colors {
		buf.Colors[i] = xrayValue
	}
}

// HeatmapColor maps t in [0,1] onto a blue→cyan→green→yellow→red ramp.
func HeatmapColor(t float32) (r, g, b float32) {
	r = clamp01(1.5 - abs(t*4-3))
	g = clamp01(1.5 - abs(t*4-2))
	b = clamp01(1.5 - abs(t*4-1))
	return r, g, b
}

func abs(v float32) float32 {
	return float32(math.Abs(float64(v)))
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
