package l4appearance

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// BuildPalette returns k display colors. Explicit colors are used first;
// the rest are spread evenly around the HCL hue circle.
func BuildPalette(k int, explicit []colorful.Color) []colorful.Color {
	out := make([]colorful.Color, 0, k)
	for i := 0; i < k; i++ {
		if i < len(explicit) {
			out = append(out, explicit[i])
			continue
		}
		hue := 360 * float64(i) / float64(k)
		out = append(out, colorful.Hcl(hue, 0.7, 0.6).Clamped())
	}
	return out
}

// RGBA converts a palette color for use as a voxel color.
func RGBA(c colorful.Color) color.RGBA {
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// modelColor stores a palette color as RGBA components in [0, 1].
func modelColor(c colorful.Color) [4]float64 {
	c = c.Clamped()
	return [4]float64{c.R, c.G, c.B, 1}
}
