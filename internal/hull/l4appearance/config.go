package l4appearance

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/ulissebordignon/voxeltrack/internal/config"
)

// ColorSpace selects how pixels are binned into histogram channels.
type ColorSpace string

const (
	// HSV bins hue, saturation and value.
	HSV ColorSpace = "hsv"
	// RGB bins red, green and blue.
	RGB ColorSpace = "rgb"
)

// KMeansConfig controls the bootstrap clustering.
type KMeansConfig struct {
	Attempts      int
	MaxIterations int
	Epsilon       float64 // stop when no center moves further than this
	Seed          int64
}

// AppearanceConfig holds the appearance-model parameters for a run.
type AppearanceConfig struct {
	Clusters       int
	Bins           int
	Total          float64 // normalised histogram sum
	Space          ColorSpace
	MinVoxelHeight int
	KMeans         KMeansConfig

	Palette    []colorful.Color // one per cluster
	Unassigned colorful.Color
}

// AppearanceConfigFromTuning derives appearance parameters from the tuning
// config and resolves the display palette to exactly Clusters colors.
func AppearanceConfigFromTuning(cfg *config.TuningConfig) (AppearanceConfig, error) {
	explicit := make([]colorful.Color, 0, len(cfg.Palette))
	for i, hex := range cfg.Palette {
		c, err := colorful.Hex(hex)
		if err != nil {
			return AppearanceConfig{}, fmt.Errorf("palette[%d]: %w", i, err)
		}
		explicit = append(explicit, c)
	}
	unassigned, err := colorful.Hex(cfg.GetUnassignedColor())
	if err != nil {
		return AppearanceConfig{}, fmt.Errorf("unassigned_color: %w", err)
	}

	k := cfg.GetClusters()
	return AppearanceConfig{
		Clusters:       k,
		Bins:           cfg.GetHistogramBins(),
		Total:          cfg.GetHistogramTotal(),
		Space:          ColorSpace(cfg.GetColorSpace()),
		MinVoxelHeight: cfg.GetMinVoxelHeight(),
		KMeans: KMeansConfig{
			Attempts:      cfg.GetKMeansAttempts(),
			MaxIterations: cfg.GetKMeansMaxIterations(),
			Epsilon:       cfg.GetKMeansEpsilon(),
			Seed:          cfg.GetRandomSeed(),
		},
		Palette:    BuildPalette(k, explicit),
		Unassigned: unassigned,
	}, nil
}
