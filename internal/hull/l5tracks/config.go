package l5tracks

import (
	"github.com/ulissebordignon/voxeltrack/internal/config"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l4appearance"
)

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	Appearance l4appearance.AppearanceConfig

	WarningFraction    float64 // occupied/total above which segmentation needs confirmation
	RelabelDistance    float64 // max ground distance to a first-pass centre (world units)
	JumpThreshold      float64 // max refined centre movement per frame
	UnassignedDistance float64 // final-pass distance beyond which a voxel is unassigned

	ModelPath string // colour model file
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file. Panics if the file cannot be found.
func DefaultTrackerConfig() TrackerConfig {
	cfg, err := TrackerConfigFromTuning(config.MustLoadDefaultConfig())
	if err != nil {
		panic(err)
	}
	return cfg
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
func TrackerConfigFromTuning(cfg *config.TuningConfig) (TrackerConfig, error) {
	app, err := l4appearance.AppearanceConfigFromTuning(cfg)
	if err != nil {
		return TrackerConfig{}, err
	}
	return TrackerConfig{
		Appearance:         app,
		WarningFraction:    cfg.GetOccupancyWarningFraction(),
		RelabelDistance:    cfg.GetRelabelDistance(),
		JumpThreshold:      cfg.GetJumpThreshold(),
		UnassignedDistance: cfg.GetUnassignedDistance(),
		ModelPath:          cfg.ArtifactPath(cfg.GetColorModelFile()),
	}, nil
}
