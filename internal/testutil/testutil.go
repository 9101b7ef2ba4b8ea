// Package testutil provides shared test fixtures: synthetic multi-camera
// scenes in which coloured boxes of voxels are foreground.
//
// Every scene camera maps lattice voxels one-to-one onto its pixels, so the
// visual hull of a frame is exactly the union of its blobs and no voxel
// occludes another.
package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/ulissebordignon/voxeltrack/internal/hull/l1cameras"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l2voxels"
)

// Background is the frame colour outside every blob.
var Background = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// Blob is an axis-aligned box of voxels in world coordinates, inclusive.
type Blob struct {
	Min, Max [3]int
	Color    color.RGBA
}

// Contains reports whether the world point lies inside the blob.
func (b Blob) Contains(x, y, z int) bool {
	p := [3]int{x, y, z}
	for i := range p {
		if p[i] < b.Min[i] || p[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Voxels returns the indices of the lattice voxels inside the blob, ascending.
func (b Blob) Voxels(params l2voxels.GridParams) []int {
	var out []int
	for i := 0; i < params.Total(); i++ {
		x, y, z := params.World(params.Lattice(i))
		if b.Contains(x, y, z) {
			out = append(out, i)
		}
	}
	return out
}

// Centroid is the mean ground position of the blob's lattice voxels.
func (b Blob) Centroid(params l2voxels.GridParams) r2.Point {
	var sum r2.Point
	vox := b.Voxels(params)
	for _, i := range vox {
		x, y, _ := params.World(params.Lattice(i))
		sum = sum.Add(r2.Point{X: float64(x), Y: float64(y)})
	}
	return sum.Mul(1 / float64(len(vox)))
}

// Scene is a set of synthetic cameras around a voxel lattice.
type Scene struct {
	Params  l2voxels.GridParams
	Cameras []*l1cameras.SyntheticCamera
	size    image.Point
}

// NewScene creates n cameras over params with no frames yet.
func NewScene(params l2voxels.GridParams, n int) *Scene {
	nx, ny, nz := params.Dims()
	s := &Scene{Params: params, size: image.Pt(nx, ny*nz)}
	for c := 0; c < n; c++ {
		shift := c * 7
		loc := r3.Vector{
			X: float64(params.HalfEdge) * 4 * math.Cos(float64(c)),
			Y: float64(params.HalfEdge) * 4 * math.Sin(float64(c)),
			Z: float64(params.HalfEdge) * 2,
		}
		s.Cameras = append(s.Cameras, l1cameras.NewSyntheticCamera(
			fmt.Sprintf("cam%d", c), s.size, loc, s.projector(shift)))
	}
	return s
}

// projector maps a lattice voxel to a unique pixel by rotating its linear
// index. Points off the lattice land outside the image.
func (s *Scene) projector(shift int) func(r3.Vector) image.Point {
	total := s.Params.Total()
	return func(p r3.Vector) image.Point {
		idx, ok := s.Params.IndexOfWorld(int(math.Round(p.X)), int(math.Round(p.Y)), int(math.Round(p.Z)))
		if !ok {
			return image.Pt(-1, -1)
		}
		k := (idx + shift) % total
		return image.Pt(k%s.size.X, k/s.size.X)
	}
}

// AddFrame renders one frame on every camera: blob voxels are foreground
// and take their blob's colour.
func (s *Scene) AddFrame(blobs ...Blob) {
	for _, cam := range s.Cameras {
		frame := image.NewRGBA(image.Rectangle{Max: s.size})
		draw.Draw(frame, frame.Bounds(), &image.Uniform{C: Background}, image.Point{}, draw.Src)
		mask := l1cameras.NewMask(s.size)
		for _, b := range blobs {
			for _, v := range b.Voxels(s.Params) {
				x, y, z := s.Params.World(s.Params.Lattice(v))
				px := cam.Project(r3.Vector{X: float64(x), Y: float64(y), Z: float64(z)})
				frame.SetRGBA(px.X, px.Y, b.Color)
				l1cameras.MarkForeground(mask, px)
			}
		}
		cam.AddFrame(frame, mask)
	}
}

// CameraList returns the cameras as the collaborator interface.
func (s *Scene) CameraList() []l1cameras.Camera {
	out := make([]l1cameras.Camera, len(s.Cameras))
	for i, c := range s.Cameras {
		out[i] = c
	}
	return out
}

// ThreeBlobs returns three ground-disjoint red, green and blue boxes that
// fit a lattice with half edge 5 and height at least 5.
func ThreeBlobs() []Blob {
	return []Blob{
		{Min: [3]int{-5, -5, 0}, Max: [3]int{-3, -3, 4}, Color: color.RGBA{R: 255, A: 255}},
		{Min: [3]int{2, -5, 0}, Max: [3]int{4, -3, 4}, Color: color.RGBA{G: 255, A: 255}},
		{Min: [3]int{-1, 2, 0}, Max: [3]int{1, 4, 4}, Color: color.RGBA{B: 255, A: 255}},
	}
}

// Shift returns a copy of b moved by (dx, dy) on the ground plane.
func (b Blob) Shift(dx, dy int) Blob {
	b.Min[0] += dx
	b.Max[0] += dx
	b.Min[1] += dy
	b.Max[1] += dy
	return b
}
