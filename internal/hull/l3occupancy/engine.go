package l3occupancy

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ulissebordignon/voxeltrack/internal/config"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l1cameras"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l2voxels"
	"github.com/ulissebordignon/voxeltrack/internal/monitoring"
)

// ErrNoCameras rejects an engine constructed without cameras.
var ErrNoCameras = errors.New("occupancy engine needs at least one camera")

// cancelCheckInterval is how many voxels a worker tests between context checks.
const cancelCheckInterval = 1 << 14

// EngineConfig holds occupancy parameters.
type EngineConfig struct {
	// Workers is the number of concurrent voxel ranges; 0 means NumCPU.
	Workers int
}

// EngineConfigFromTuning derives engine parameters from the tuning config.
func EngineConfigFromTuning(cfg *config.TuningConfig) EngineConfig {
	return EngineConfig{Workers: cfg.GetOccupancyWorkers()}
}

// Engine computes the occupied voxel set of the current frame.
type Engine struct {
	grid    *l2voxels.Grid
	cams    []l1cameras.Camera
	workers int
}

// NewEngine binds an engine to a grid and the cameras it was built for.
func NewEngine(grid *l2voxels.Grid, cams []l1cameras.Camera, cfg EngineConfig) (*Engine, error) {
	if len(cams) == 0 {
		return nil, ErrNoCameras
	}
	if grid == nil {
		return nil, fmt.Errorf("occupancy engine needs a voxel grid")
	}
	if grid.Cameras != len(cams) {
		return nil, fmt.Errorf("voxel grid has projections for %d cameras, engine has %d", grid.Cameras, len(cams))
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Engine{grid: grid, cams: cams, workers: workers}, nil
}

// Grid returns the arena the engine evaluates.
func (e *Engine) Grid() *l2voxels.Grid { return e.grid }

// Cameras returns the engine's cameras in grid order.
func (e *Engine) Cameras() []l1cameras.Camera { return e.cams }

// Occupied returns the indices of voxels that project onto foreground in
// every camera, in ascending order.
func (e *Engine) Occupied(ctx context.Context) ([]int, error) {
	all := make([]int, len(e.cams))
	for c := range all {
		all[c] = c
	}
	return e.OccupiedSubset(ctx, all)
}

// OccupiedSubset evaluates the hull against the listed cameras only. A voxel
// is occupied when its projection is valid and foreground on each of them,
// so adding cameras can only shrink the result.
func (e *Engine) OccupiedSubset(ctx context.Context, cams []int) ([]int, error) {
	if len(cams) == 0 {
		return nil, ErrNoCameras
	}
	masks := make([]*image.Gray, len(cams))
	for j, c := range cams {
		if c < 0 || c >= len(e.cams) {
			return nil, fmt.Errorf("camera index %d out of range [0, %d)", c, len(e.cams))
		}
		masks[j] = e.cams[c].ForegroundMask()
	}

	start := time.Now()
	total := e.grid.Len()
	workers := min(e.workers, total)
	chunk := (total + workers - 1) / workers
	parts := make([][]int, workers)

	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, total)
		eg.Go(func() error {
			var local []int
			for i := lo; i < hi; i++ {
				if (i-lo)%cancelCheckInterval == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if e.occupied(i, cams, masks) {
					local = append(local, i)
				}
			}
			parts[w] = local
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("occupancy: %w", err)
	}

	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]int, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}

	monitoring.Debugf("[Occupancy] %d/%d voxels occupied on %d cameras in %v", n, total, len(cams), time.Since(start))
	return out, nil
}

// occupied stops at the first camera that misses, which is equivalent to
// counting hits and comparing against the camera count.
func (e *Engine) occupied(i int, cams []int, masks []*image.Gray) bool {
	for j, c := range cams {
		px, ok := e.grid.Projection(i, c)
		if !ok || !l1cameras.IsForeground(masks[j], px) {
			return false
		}
	}
	return true
}
