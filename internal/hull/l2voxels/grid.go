package l2voxels

import (
	"fmt"
	"image"
	"image/color"

	"github.com/golang/geo/r3"

	"github.com/ulissebordignon/voxeltrack/internal/config"
)

// GridParams fixes the lattice for the lifetime of a run.
//
// The lattice covers x and y in [-HalfEdge, HalfEdge) and z in [0, Height),
// sampled every Step world units. Height zero means HalfEdge.
type GridParams struct {
	HalfEdge int
	Step     int
	Height   int
}

// GridParamsFromTuning derives lattice parameters from the tuning config.
func GridParamsFromTuning(cfg *config.TuningConfig) GridParams {
	return GridParams{
		HalfEdge: cfg.GetHalfEdge(),
		Step:     cfg.GetStep(),
		Height:   cfg.GetHeight(),
	}
}

// Validate checks that the parameters describe a non-empty lattice.
func (p GridParams) Validate() error {
	if p.Step <= 0 || p.HalfEdge <= 0 {
		return fmt.Errorf("grid: half_edge and step must be positive, got %d and %d", p.HalfEdge, p.Step)
	}
	if p.HalfEdge%p.Step != 0 {
		return fmt.Errorf("grid: half_edge %d is not a multiple of step %d", p.HalfEdge, p.Step)
	}
	if p.Height < 0 || p.Height%p.Step != 0 {
		return fmt.Errorf("grid: height %d is not a non-negative multiple of step %d", p.Height, p.Step)
	}
	return nil
}

func (p GridParams) height() int {
	if p.Height == 0 {
		return p.HalfEdge
	}
	return p.Height
}

// Dims returns the lattice size along each axis.
func (p GridParams) Dims() (nx, ny, nz int) {
	n := 2 * p.HalfEdge / p.Step
	return n, n, p.height() / p.Step
}

// Total is the voxel count, ((2·HalfEdge)/Step)² · (Height/Step).
func (p GridParams) Total() int {
	nx, ny, nz := p.Dims()
	return nx * ny * nz
}

// Index maps lattice position (xi, yi, zi) to its linear index.
// Voxels are laid out x fastest, then y, then z.
func (p GridParams) Index(xi, yi, zi int) int {
	nx, ny, _ := p.Dims()
	return zi*nx*ny + yi*nx + xi
}

// Lattice inverts Index.
func (p GridParams) Lattice(index int) (xi, yi, zi int) {
	nx, ny, _ := p.Dims()
	plane := nx * ny
	zi = index / plane
	rem := index % plane
	return rem % nx, rem / nx, zi
}

// World returns the world coordinates of lattice position (xi, yi, zi).
func (p GridParams) World(xi, yi, zi int) (x, y, z int) {
	return xi*p.Step - p.HalfEdge, yi*p.Step - p.HalfEdge, zi * p.Step
}

// IndexOfWorld maps world coordinates on the lattice to a linear index.
// ok is false when the point is off the lattice.
func (p GridParams) IndexOfWorld(x, y, z int) (index int, ok bool) {
	if (x+p.HalfEdge)%p.Step != 0 || (y+p.HalfEdge)%p.Step != 0 || z%p.Step != 0 {
		return 0, false
	}
	xi, yi, zi := (x+p.HalfEdge)/p.Step, (y+p.HalfEdge)/p.Step, z/p.Step
	nx, ny, nz := p.Dims()
	if xi < 0 || yi < 0 || zi < 0 || xi >= nx || yi >= ny || zi >= nz {
		return 0, false
	}
	return p.Index(xi, yi, zi), true
}

// Corners returns the 8 corners of the bounding volume, bottom four first.
func (p GridParams) Corners() []r3.Vector {
	e, h := float64(p.HalfEdge), float64(p.height())
	return []r3.Vector{
		{X: -e, Y: -e, Z: 0}, {X: e, Y: -e, Z: 0}, {X: e, Y: e, Z: 0}, {X: -e, Y: e, Z: 0},
		{X: -e, Y: -e, Z: h}, {X: e, Y: -e, Z: h}, {X: e, Y: e, Z: h}, {X: -e, Y: e, Z: h},
	}
}

// Voxel is one lattice sample. Only Color changes after the grid is built.
type Voxel struct {
	X, Y, Z int
	Color   color.RGBA
}

// Position returns the voxel centre as a world vector.
func (v Voxel) Position() r3.Vector {
	return r3.Vector{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

// Grid is the flat voxel arena. Voxels are addressed by linear index and
// per-camera projections live in parallel flat slices at index*cameras+c.
type Grid struct {
	Params  GridParams
	Cameras int

	voxels []Voxel
	pixels []image.Point
	valid  []bool
}

// NewGrid allocates an arena for params with lattice coordinates filled in
// and every projection marked invalid.
func NewGrid(params GridParams, cameras int) (*Grid, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if cameras <= 0 {
		return nil, fmt.Errorf("grid: camera count must be positive, got %d", cameras)
	}
	total := params.Total()
	g := &Grid{
		Params:  params,
		Cameras: cameras,
		voxels:  make([]Voxel, total),
		pixels:  make([]image.Point, total*cameras),
		valid:   make([]bool, total*cameras),
	}
	for i := range g.voxels {
		x, y, z := params.World(params.Lattice(i))
		g.voxels[i] = Voxel{X: x, Y: y, Z: z}
	}
	return g, nil
}

// Len returns the number of voxels.
func (g *Grid) Len() int { return len(g.voxels) }

// Voxel returns a copy of voxel i.
func (g *Grid) Voxel(i int) Voxel { return g.voxels[i] }

// Position returns the world position of voxel i.
func (g *Grid) Position(i int) r3.Vector { return g.voxels[i].Position() }

// SetColor records the display color of voxel i.
func (g *Grid) SetColor(i int, c color.RGBA) { g.voxels[i].Color = c }

// Projection returns the pixel of voxel i on camera cam and whether it lies
// inside that camera's image.
func (g *Grid) Projection(i, cam int) (image.Point, bool) {
	k := i*g.Cameras + cam
	return g.pixels[k], g.valid[k]
}

// SetProjection stores the projection of voxel i on camera cam.
func (g *Grid) SetProjection(i, cam int, px image.Point, valid bool) {
	k := i*g.Cameras + cam
	g.pixels[k], g.valid[k] = px, valid
}
