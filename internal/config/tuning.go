package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// SchemaVersion is the tuning file layout this build understands.
// A file carrying a different version is rejected by Validate.
const SchemaVersion = 1

// TuningConfig represents the root configuration for a reconstruction and
// tracking run. Every field is optional in the JSON file; the Get* accessors
// carry the one authoritative default for each field so that no two call
// sites can disagree about what an omitted value means.
type TuningConfig struct {
	SchemaVersion *int `json:"schema_version,omitempty"`

	// Voxel lattice
	HalfEdge *int `json:"half_edge,omitempty"` // half width of the volume (world units)
	Step     *int `json:"step,omitempty"`      // lattice spacing (world units)
	Height   *int `json:"height,omitempty"`    // vertical extent; 0 = half_edge

	// Occupancy engine
	OccupancyWorkers *int `json:"occupancy_workers,omitempty"` // 0 = runtime.NumCPU()

	// Appearance models
	Clusters            *int     `json:"clusters,omitempty"`
	KMeansAttempts      *int     `json:"kmeans_attempts,omitempty"`
	KMeansMaxIterations *int     `json:"kmeans_max_iterations,omitempty"`
	KMeansEpsilon       *float64 `json:"kmeans_epsilon,omitempty"`
	RandomSeed          *int64   `json:"random_seed,omitempty"`
	HistogramBins       *int     `json:"histogram_bins,omitempty"`
	HistogramTotal      *float64 `json:"histogram_total,omitempty"`
	ColorSpace          *string  `json:"color_space,omitempty"` // "hsv" or "rgb"
	MinVoxelHeight      *int     `json:"min_voxel_height,omitempty"`

	// Tracking
	OccupancyWarningFraction *float64 `json:"occupancy_warning_fraction,omitempty"`
	RelabelDistance          *float64 `json:"relabel_distance,omitempty"`
	JumpThreshold            *float64 `json:"jump_threshold,omitempty"`
	UnassignedDistance       *float64 `json:"unassigned_distance,omitempty"`
	Palette                  []string `json:"palette,omitempty"` // hex colors, cluster order
	UnassignedColor          *string  `json:"unassigned_color,omitempty"`

	// Foreground mask clean-up (directory camera source)
	MaskErode  *int `json:"mask_erode,omitempty"`
	MaskDilate *int `json:"mask_dilate,omitempty"`

	// Artifacts
	DataDir        *string `json:"data_dir,omitempty"`
	VoxelCacheFile *string `json:"voxel_cache_file,omitempty"`
	ColorModelFile *string `json:"color_model_file,omitempty"`
	TrackLogFile   *string `json:"track_log_file,omitempty"`
	TrackDBFile    *string `json:"track_db_file,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a fully populated TuningConfig whose values
// equal the Get* fallbacks. It is what config/tuning.defaults.json contains.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		SchemaVersion:            ptrInt(SchemaVersion),
		HalfEdge:                 ptrInt(e.GetHalfEdge()),
		Step:                     ptrInt(e.GetStep()),
		Height:                   ptrInt(e.GetHeight()),
		OccupancyWorkers:         ptrInt(e.GetOccupancyWorkers()),
		Clusters:                 ptrInt(e.GetClusters()),
		KMeansAttempts:           ptrInt(e.GetKMeansAttempts()),
		KMeansMaxIterations:      ptrInt(e.GetKMeansMaxIterations()),
		KMeansEpsilon:            ptrFloat64(e.GetKMeansEpsilon()),
		RandomSeed:               ptrInt64(e.GetRandomSeed()),
		HistogramBins:            ptrInt(e.GetHistogramBins()),
		HistogramTotal:           ptrFloat64(e.GetHistogramTotal()),
		ColorSpace:               ptrString(e.GetColorSpace()),
		MinVoxelHeight:           ptrInt(e.GetMinVoxelHeight()),
		OccupancyWarningFraction: ptrFloat64(e.GetOccupancyWarningFraction()),
		RelabelDistance:          ptrFloat64(e.GetRelabelDistance()),
		JumpThreshold:            ptrFloat64(e.GetJumpThreshold()),
		UnassignedDistance:       ptrFloat64(e.GetUnassignedDistance()),
		UnassignedColor:          ptrString(e.GetUnassignedColor()),
		MaskErode:                ptrInt(e.GetMaskErode()),
		MaskDilate:               ptrInt(e.GetMaskDilate()),
		DataDir:                  ptrString(e.GetDataDir()),
		VoxelCacheFile:           ptrString(e.GetVoxelCacheFile()),
		ColorModelFile:           ptrString(e.GetColorModelFile()),
		TrackLogFile:             ptrString(e.GetTrackLogFile()),
		TrackDBFile:              ptrString(e.GetTrackDBFile()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/hull/l5tracks/
		"../../../../" + DefaultConfigPath,    // from internal/hull/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.SchemaVersion != nil && *c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version %d is not supported (want %d)", *c.SchemaVersion, SchemaVersion)
	}

	halfEdge, step := c.GetHalfEdge(), c.GetStep()
	if halfEdge <= 0 {
		return fmt.Errorf("half_edge must be positive, got %d", halfEdge)
	}
	if step <= 0 {
		return fmt.Errorf("step must be positive, got %d", step)
	}
	if halfEdge%step != 0 {
		return fmt.Errorf("half_edge (%d) must be a multiple of step (%d)", halfEdge, step)
	}

	if h := c.GetHeight(); h < 0 || h%step != 0 {
		return fmt.Errorf("height (%d) must be a non-negative multiple of step (%d)", h, step)
	}

	if c.GetOccupancyWorkers() < 0 {
		return fmt.Errorf("occupancy_workers must be non-negative, got %d", c.GetOccupancyWorkers())
	}
	if c.GetClusters() < 1 {
		return fmt.Errorf("clusters must be at least 1, got %d", c.GetClusters())
	}
	if c.GetKMeansAttempts() < 1 {
		return fmt.Errorf("kmeans_attempts must be at least 1, got %d", c.GetKMeansAttempts())
	}
	if c.GetKMeansMaxIterations() < 1 {
		return fmt.Errorf("kmeans_max_iterations must be at least 1, got %d", c.GetKMeansMaxIterations())
	}
	if c.GetKMeansEpsilon() < 0 {
		return fmt.Errorf("kmeans_epsilon must be non-negative, got %f", c.GetKMeansEpsilon())
	}
	if bins := c.GetHistogramBins(); bins < 1 || bins > 256 {
		return fmt.Errorf("histogram_bins must be in [1, 256], got %d", bins)
	}
	if c.GetHistogramTotal() <= 0 {
		return fmt.Errorf("histogram_total must be positive, got %f", c.GetHistogramTotal())
	}
	switch c.GetColorSpace() {
	case "hsv", "rgb":
	default:
		return fmt.Errorf("color_space must be \"hsv\" or \"rgb\", got %q", c.GetColorSpace())
	}
	if f := c.GetOccupancyWarningFraction(); f <= 0 || f > 1 {
		return fmt.Errorf("occupancy_warning_fraction must be in (0, 1], got %f", f)
	}
	if c.GetRelabelDistance() <= 0 {
		return fmt.Errorf("relabel_distance must be positive, got %f", c.GetRelabelDistance())
	}
	if c.GetJumpThreshold() <= 0 {
		return fmt.Errorf("jump_threshold must be positive, got %f", c.GetJumpThreshold())
	}
	if c.GetUnassignedDistance() < c.GetRelabelDistance() {
		return fmt.Errorf("unassigned_distance (%f) must not be smaller than relabel_distance (%f)",
			c.GetUnassignedDistance(), c.GetRelabelDistance())
	}
	for i, hex := range c.Palette {
		if !isHexColor(hex) {
			return fmt.Errorf("palette[%d] is not a #rrggbb color: %q", i, hex)
		}
	}
	if !isHexColor(c.GetUnassignedColor()) {
		return fmt.Errorf("unassigned_color is not a #rrggbb color: %q", c.GetUnassignedColor())
	}
	if c.GetMaskErode() < 0 || c.GetMaskDilate() < 0 {
		return fmt.Errorf("mask_erode and mask_dilate must be non-negative")
	}
	if strings.TrimSpace(c.GetVoxelCacheFile()) == "" || strings.TrimSpace(c.GetColorModelFile()) == "" {
		return fmt.Errorf("voxel_cache_file and color_model_file must be set")
	}

	return nil
}

func isHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, r := range s[1:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// GetHalfEdge returns the half_edge value or the default.
func (c *TuningConfig) GetHalfEdge() int {
	if c.HalfEdge == nil {
		return 2048
	}
	return *c.HalfEdge
}

// GetStep returns the step value or the default.
func (c *TuningConfig) GetStep() int {
	if c.Step == nil {
		return 32
	}
	return *c.Step
}

// GetHeight returns the vertical extent of the lattice or the default
// (0, meaning the volume is half_edge tall).
func (c *TuningConfig) GetHeight() int {
	if c.Height == nil {
		return 0
	}
	return *c.Height
}

// GetOccupancyWorkers returns the occupancy_workers value or the default (0 = NumCPU).
func (c *TuningConfig) GetOccupancyWorkers() int {
	if c.OccupancyWorkers == nil {
		return 0
	}
	return *c.OccupancyWorkers
}

// GetClusters returns the clusters value or the default.
func (c *TuningConfig) GetClusters() int {
	if c.Clusters == nil {
		return 4
	}
	return *c.Clusters
}

// GetKMeansAttempts returns the kmeans_attempts value or the default.
func (c *TuningConfig) GetKMeansAttempts() int {
	if c.KMeansAttempts == nil {
		return 3
	}
	return *c.KMeansAttempts
}

// GetKMeansMaxIterations returns the kmeans_max_iterations value or the default.
func (c *TuningConfig) GetKMeansMaxIterations() int {
	if c.KMeansMaxIterations == nil {
		return 100
	}
	return *c.KMeansMaxIterations
}

// GetKMeansEpsilon returns the kmeans_epsilon value or the default.
func (c *TuningConfig) GetKMeansEpsilon() float64 {
	if c.KMeansEpsilon == nil {
		return 1.0
	}
	return *c.KMeansEpsilon
}

// GetRandomSeed returns the random_seed value or the default.
func (c *TuningConfig) GetRandomSeed() int64 {
	if c.RandomSeed == nil {
		return 1
	}
	return *c.RandomSeed
}

// GetHistogramBins returns the histogram_bins value or the default.
func (c *TuningConfig) GetHistogramBins() int {
	if c.HistogramBins == nil {
		return 16
	}
	return *c.HistogramBins
}

// GetHistogramTotal returns the histogram_total value or the default.
func (c *TuningConfig) GetHistogramTotal() float64 {
	if c.HistogramTotal == nil {
		return 100
	}
	return *c.HistogramTotal
}

// GetColorSpace returns the color_space value or the default.
func (c *TuningConfig) GetColorSpace() string {
	if c.ColorSpace == nil || *c.ColorSpace == "" {
		return "hsv"
	}
	return strings.ToLower(*c.ColorSpace)
}

// GetMinVoxelHeight returns the min_voxel_height value or the default.
func (c *TuningConfig) GetMinVoxelHeight() int {
	if c.MinVoxelHeight == nil {
		return 0
	}
	return *c.MinVoxelHeight
}

// GetOccupancyWarningFraction returns the occupancy_warning_fraction value or the default.
func (c *TuningConfig) GetOccupancyWarningFraction() float64 {
	if c.OccupancyWarningFraction == nil {
		return 0.25
	}
	return *c.OccupancyWarningFraction
}

// GetRelabelDistance returns the relabel_distance value or the default.
func (c *TuningConfig) GetRelabelDistance() float64 {
	if c.RelabelDistance == nil {
		return 600
	}
	return *c.RelabelDistance
}

// GetJumpThreshold returns the jump_threshold value or the default.
func (c *TuningConfig) GetJumpThreshold() float64 {
	if c.JumpThreshold == nil {
		return 300
	}
	return *c.JumpThreshold
}

// GetUnassignedDistance returns the unassigned_distance value or the default.
func (c *TuningConfig) GetUnassignedDistance() float64 {
	if c.UnassignedDistance == nil {
		return 900
	}
	return *c.UnassignedDistance
}

// GetUnassignedColor returns the unassigned_color value or the default.
func (c *TuningConfig) GetUnassignedColor() string {
	if c.UnassignedColor == nil || *c.UnassignedColor == "" {
		return "#b3b3b3"
	}
	return *c.UnassignedColor
}

// GetMaskErode returns the mask_erode kernel size or the default (disabled).
func (c *TuningConfig) GetMaskErode() int {
	if c.MaskErode == nil {
		return 0
	}
	return *c.MaskErode
}

// GetMaskDilate returns the mask_dilate kernel size or the default (disabled).
func (c *TuningConfig) GetMaskDilate() int {
	if c.MaskDilate == nil {
		return 0
	}
	return *c.MaskDilate
}

// GetDataDir returns the data_dir value or the default.
func (c *TuningConfig) GetDataDir() string {
	if c.DataDir == nil || *c.DataDir == "" {
		return "data"
	}
	return *c.DataDir
}

// GetVoxelCacheFile returns the voxel_cache_file value or the default.
func (c *TuningConfig) GetVoxelCacheFile() string {
	if c.VoxelCacheFile == nil {
		return "voxels.csv"
	}
	return *c.VoxelCacheFile
}

// GetColorModelFile returns the color_model_file value or the default.
func (c *TuningConfig) GetColorModelFile() string {
	if c.ColorModelFile == nil {
		return "color_models.yml"
	}
	return *c.ColorModelFile
}

// GetTrackLogFile returns the track_log_file value or the default.
func (c *TuningConfig) GetTrackLogFile() string {
	if c.TrackLogFile == nil {
		return "tracks.tsv"
	}
	return *c.TrackLogFile
}

// GetTrackDBFile returns the track_db_file value or the default (empty disables the store).
func (c *TuningConfig) GetTrackDBFile() string {
	if c.TrackDBFile == nil {
		return ""
	}
	return *c.TrackDBFile
}

// ArtifactPath joins name onto the data directory unless name is absolute.
func (c *TuningConfig) ArtifactPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.GetDataDir(), name)
}
