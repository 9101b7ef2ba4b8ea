package l2voxels

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l1cameras"
	"github.com/ulissebordignon/voxeltrack/internal/monitoring"
)

// Builder produces the voxel arena for a camera set, reusing the on-disk
// projection cache when it matches.
type Builder struct {
	fsys      fsutil.FileSystem
	cachePath string
	workers   int
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// FS is the filesystem holding the cache; nil means the OS filesystem.
	FS fsutil.FileSystem
	// CachePath is the projection cache file. Empty disables caching.
	CachePath string
	// Workers bounds projection parallelism; 0 means runtime.NumCPU().
	Workers int
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	fsys := cfg.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Builder{fsys: fsys, cachePath: cfg.CachePath, workers: workers}
}

// KeyFor derives the cache key of a camera set on a lattice.
func KeyFor(cams []l1cameras.Camera, params GridParams) CacheKey {
	return CacheKey{
		Params:      params,
		Cameras:     len(cams),
		Fingerprint: l1cameras.Fingerprint(cams, params.Corners()),
	}
}

// Build allocates the arena and projects every voxel on every camera.
// The cost is O(voxels × cameras); z slabs are projected in parallel.
func (b *Builder) Build(ctx context.Context, cams []l1cameras.Camera, params GridParams) (*Grid, error) {
	g, err := NewGrid(params, len(cams))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	nx, ny, nz := params.Dims()
	plane := nx * ny
	sizes := make([]image.Point, len(cams))
	for c, cam := range cams {
		sizes[c] = cam.ImageSize()
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.workers)
	for zi := 0; zi < nz; zi++ {
		lo, hi := zi*plane, (zi+1)*plane
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				pos := g.Position(i)
				for c, cam := range cams {
					px := cam.Project(pos)
					g.SetProjection(i, c, px, l1cameras.InBounds(sizes[c], px))
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("project voxels: %w", err)
	}

	monitoring.Logf("[VoxelGrid] projected %d voxels on %d cameras in %v", g.Len(), len(cams), time.Since(start))
	return g, nil
}

// LoadOrBuild returns the arena from the projection cache when the cache
// matches the camera set and lattice, and otherwise builds it and replaces
// the cache atomically. A mismatched or malformed cache is never reused.
func (b *Builder) LoadOrBuild(ctx context.Context, cams []l1cameras.Camera, params GridParams) (*Grid, error) {
	if len(cams) == 0 {
		return nil, fmt.Errorf("grid: no cameras")
	}
	if b.cachePath == "" {
		return b.Build(ctx, cams, params)
	}

	key := KeyFor(cams, params)
	g, err := b.load(key)
	switch {
	case err == nil:
		monitoring.Logf("[VoxelGrid] loaded %d voxels from %s", g.Len(), b.cachePath)
		return g, nil
	case errors.Is(err, fs.ErrNotExist):
		monitoring.Logf("[VoxelGrid] no projection cache at %s, building", b.cachePath)
	case errors.Is(err, ErrCacheMismatch), errors.Is(err, ErrCacheFormat):
		monitoring.Logf("[VoxelGrid] projection cache %s unusable, rebuilding: %v", b.cachePath, err)
	default:
		return nil, err
	}

	g, err = b.Build(ctx, cams, params)
	if err != nil {
		return nil, err
	}
	if err := b.save(g, key.Fingerprint); err != nil {
		return nil, err
	}
	return g, nil
}

func (b *Builder) load(key CacheKey) (*Grid, error) {
	f, err := b.fsys.Open(b.cachePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCache(f, key)
}

func (b *Builder) save(g *Grid, fingerprint string) error {
	var buf bytes.Buffer
	if err := WriteCache(&buf, g, fingerprint); err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(b.fsys, b.cachePath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write projection cache: %w", err)
	}
	monitoring.Logf("[VoxelGrid] wrote projection cache %s (%d bytes)", b.cachePath, buf.Len())
	return nil
}
