package pipeline

import (
	"context"
	"fmt"

	"github.com/ulissebordignon/voxeltrack/internal/config"
	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l1cameras"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l2voxels"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l3occupancy"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l5tracks"
)

// Session holds the layer objects built for one camera set.
type Session struct {
	Cameras []l1cameras.Camera
	Grid    *l2voxels.Grid
	Engine  *l3occupancy.Engine
	Tracker *l5tracks.Tracker
}

// NewSession loads or builds the voxel grid for cams and constructs the
// occupancy engine and tracker from the tuning config. Artifacts live under
// the configured data directory on fsys.
func NewSession(ctx context.Context, tuning *config.TuningConfig, fsys fsutil.FileSystem, cams []l1cameras.Camera) (*Session, error) {
	params := l2voxels.GridParamsFromTuning(tuning)
	builder := l2voxels.NewBuilder(l2voxels.BuilderConfig{
		FS:        fsys,
		CachePath: tuning.ArtifactPath(tuning.GetVoxelCacheFile()),
		Workers:   tuning.GetOccupancyWorkers(),
	})
	grid, err := builder.LoadOrBuild(ctx, cams, params)
	if err != nil {
		return nil, fmt.Errorf("voxel grid: %w", err)
	}
	engine, err := l3occupancy.NewEngine(grid, cams, l3occupancy.EngineConfigFromTuning(tuning))
	if err != nil {
		return nil, err
	}
	trackerCfg, err := l5tracks.TrackerConfigFromTuning(tuning)
	if err != nil {
		return nil, fmt.Errorf("tracker config: %w", err)
	}
	tracker, err := l5tracks.NewTracker(engine, fsys, trackerCfg)
	if err != nil {
		return nil, err
	}
	return &Session{Cameras: cams, Grid: grid, Engine: engine, Tracker: tracker}, nil
}
