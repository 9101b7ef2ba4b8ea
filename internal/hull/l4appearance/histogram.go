package l4appearance

import (
	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/floats"
)

// Histogram is one channel of equal-width intensity bins.
type Histogram []float64

// ChannelHistograms holds one histogram per color channel.
type ChannelHistograms [3]Histogram

// NewChannelHistograms returns three zeroed histograms of bins bins.
func NewChannelHistograms(bins int) ChannelHistograms {
	return ChannelHistograms{make(Histogram, bins), make(Histogram, bins), make(Histogram, bins)}
}

// Add counts one pixel.
func (h ChannelHistograms) Add(r, g, b uint8, space ColorSpace) {
	idx := binsOf(r, g, b, space, len(h[0]))
	for ch := range h {
		h[ch][idx[ch]]++
	}
}

// Normalize scales every channel to sum to total.
func (h ChannelHistograms) Normalize(total float64) {
	for ch := range h {
		h[ch].Normalize(total)
	}
}

// Clone returns a deep copy.
func (h ChannelHistograms) Clone() ChannelHistograms {
	var out ChannelHistograms
	for ch := range h {
		out[ch] = append(Histogram(nil), h[ch]...)
	}
	return out
}

// Normalize scales h so its bins sum to total. An all-zero histogram is left
// unchanged.
func (h Histogram) Normalize(total float64) {
	sum := floats.Sum(h)
	if sum == 0 {
		return
	}
	floats.Scale(total/sum, h)
}

// ChiSquared returns half the chi-squared distance between two histograms
// of equal length. Bins empty in both contribute nothing.
func ChiSquared(a, b Histogram) float64 {
	var d float64
	for i := range a {
		s := a[i] + b[i]
		if s == 0 {
			continue
		}
		diff := a[i] - b[i]
		d += diff * diff / s
	}
	return d / 2
}

// Distance is the mean of the per-channel chi-squared distances. Each
// channel is computed on its own before averaging.
func Distance(a, b ChannelHistograms) float64 {
	var per [3]float64
	for ch := range a {
		per[ch] = ChiSquared(a[ch], b[ch])
	}
	return (per[0] + per[1] + per[2]) / 3
}

// SampleHistogram is the normalised histogram of a single pixel.
func SampleHistogram(r, g, b uint8, cfg AppearanceConfig) ChannelHistograms {
	h := NewChannelHistograms(cfg.Bins)
	h.Add(r, g, b, cfg.Space)
	h.Normalize(cfg.Total)
	return h
}

func binsOf(r, g, b uint8, space ColorSpace, bins int) [3]int {
	if space == HSV {
		c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
		hue, sat, val := c.Hsv()
		return [3]int{unitBin(hue/360, bins), unitBin(sat, bins), unitBin(val, bins)}
	}
	return [3]int{int(r) * bins / 256, int(g) * bins / 256, int(b) * bins / 256}
}

// unitBin maps v in [0, 1] to a bin, folding 1 into the top bin.
func unitBin(v float64, bins int) int {
	i := int(v * float64(bins))
	if i >= bins {
		return bins - 1
	}
	if i < 0 {
		return 0
	}
	return i
}
