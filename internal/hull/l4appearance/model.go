package l4appearance

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/ulissebordignon/voxeltrack/internal/hull/l1cameras"
)

// ColorModel is the appearance of one tracked person.
type ColorModel struct {
	Color      [4]float64 // display RGBA in [0, 1]
	Histograms ChannelHistograms
}

// RGBA returns the display color as 8-bit components.
func (m ColorModel) RGBA() color.RGBA {
	return color.RGBA{
		R: uint8(math.Round(m.Color[0] * 255)),
		G: uint8(math.Round(m.Color[1] * 255)),
		B: uint8(math.Round(m.Color[2] * 255)),
		A: uint8(math.Round(m.Color[3] * 255)),
	}
}

// ModelSet is an immutable set of K color models. Replace it as a whole;
// never mutate one that has been handed out.
type ModelSet struct {
	Space  ColorSpace
	Bins   int
	Models []ColorModel
}

// K is the number of models.
func (s *ModelSet) K() int { return len(s.Models) }

// Nearest returns the model closest to h and its distance. Ties go to the
// lower index.
func (s *ModelSet) Nearest(h ChannelHistograms) (int, float64) {
	best, bestD := -1, math.Inf(1)
	for i, m := range s.Models {
		if d := Distance(h, m.Histograms); d < bestD {
			best, bestD = i, d
		}
	}
	return best, bestD
}

// Distances fills out[i] with the distance from h to model i.
func (s *ModelSet) Distances(h ChannelHistograms, out []float64) {
	for i, m := range s.Models {
		out[i] = Distance(h, m.Histograms)
	}
}

// Clone returns a deep copy safe to hand to callers.
func (s *ModelSet) Clone() *ModelSet {
	out := &ModelSet{Space: s.Space, Bins: s.Bins, Models: make([]ColorModel, len(s.Models))}
	for i, m := range s.Models {
		out.Models[i] = ColorModel{Color: m.Color, Histograms: m.Histograms.Clone()}
	}
	return out
}

// BuildModelSet accumulates one histogram per cluster from labelled visible
// voxels. attrs[c] belongs to camera c and is sampled from frames[c].
// Attributes whose Label is outside [0, Clusters) are skipped. Each
// histogram is normalised and each model takes its palette color.
func BuildModelSet(cfg AppearanceConfig, attrs [][]Attribute, frames []image.Image) (*ModelSet, error) {
	if len(attrs) != len(frames) {
		return nil, fmt.Errorf("build models: %d attribute sets for %d frames", len(attrs), len(frames))
	}
	if len(cfg.Palette) < cfg.Clusters {
		return nil, fmt.Errorf("build models: palette has %d colors for %d clusters", len(cfg.Palette), cfg.Clusters)
	}
	set := &ModelSet{Space: cfg.Space, Bins: cfg.Bins, Models: make([]ColorModel, cfg.Clusters)}
	for k := range set.Models {
		set.Models[k] = ColorModel{Color: modelColor(cfg.Palette[k]), Histograms: NewChannelHistograms(cfg.Bins)}
	}
	for c, list := range attrs {
		if frames[c] == nil {
			return nil, fmt.Errorf("build models: camera %d has no frame", c)
		}
		for _, a := range list {
			if a.Label < 0 || a.Label >= cfg.Clusters {
				continue
			}
			r, g, b := l1cameras.PixelAt(frames[c], a.Pixel)
			set.Models[a.Label].Histograms.Add(r, g, b, cfg.Space)
		}
	}
	for k := range set.Models {
		set.Models[k].Histograms.Normalize(cfg.Total)
	}
	return set, nil
}
