package l4appearance

import (
	"context"
	"fmt"
	"image"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ulissebordignon/voxeltrack/internal/hull/l1cameras"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l2voxels"
)

// Unlabelled marks an attribute that has not been given a cluster yet.
const Unlabelled = -1

// Attribute records that a voxel is the visible surface at Pixel in Camera.
type Attribute struct {
	Voxel  int
	Camera int
	Pixel  image.Point
	Label  int
}

// ResolveOcclusion keeps, for every camera pixel hit by an occupied voxel,
// only the voxel nearest that camera. Voxels below minHeight are ignored.
// Equal distances keep the lower voxel index. The result has one slice per
// camera, each sorted by voxel index.
func ResolveOcclusion(ctx context.Context, grid *l2voxels.Grid, cams []l1cameras.Camera, occupied []int, minHeight int) ([][]Attribute, error) {
	if grid.Cameras != len(cams) {
		return nil, fmt.Errorf("occlusion: grid has %d cameras, got %d", grid.Cameras, len(cams))
	}
	out := make([][]Attribute, len(cams))
	eg, ctx := errgroup.WithContext(ctx)
	for c, cam := range cams {
		eg.Go(func() error {
			loc := cam.Location()
			type hit struct {
				voxel int
				dist  float64
			}
			nearest := make(map[image.Point]hit)
			for _, v := range occupied {
				if grid.Voxel(v).Z < minHeight {
					continue
				}
				px, ok := grid.Projection(v, c)
				if !ok {
					continue
				}
				d := grid.Position(v).Distance(loc)
				if prev, seen := nearest[px]; seen && (prev.dist < d || (prev.dist == d && prev.voxel < v)) {
					continue
				}
				nearest[px] = hit{voxel: v, dist: d}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			attrs := make([]Attribute, 0, len(nearest))
			for px, h := range nearest {
				attrs = append(attrs, Attribute{Voxel: h.voxel, Camera: c, Pixel: px, Label: Unlabelled})
			}
			sort.Slice(attrs, func(i, j int) bool { return attrs[i].Voxel < attrs[j].Voxel })
			out[c] = attrs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("occlusion: %w", err)
	}
	return out, nil
}
