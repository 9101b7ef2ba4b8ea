package l2voxels

import (
	"bytes"
	"context"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulissebordignon/voxeltrack/internal/config"
	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l1cameras"
)

// overheadCamera maps (x, y) straight to pixels, offset into the image.
func overheadCamera(name string, offset int, size int) *l1cameras.SyntheticCamera {
	return l1cameras.NewSyntheticCamera(name, image.Pt(size, size), r3.Vector{Z: 1000},
		func(p r3.Vector) image.Point {
			return image.Pt(int(p.X)+offset, int(p.Y)+offset)
		})
}

func TestGridParams_TotalMatchesFormula(t *testing.T) {
	t.Parallel()
	tests := []GridParams{
		{HalfEdge: 2048, Step: 32},
		{HalfEdge: 64, Step: 16},
		{HalfEdge: 5, Step: 1, Height: 10},
		{HalfEdge: 3, Step: 3},
	}
	for _, p := range tests {
		h := p.Height
		if h == 0 {
			h = p.HalfEdge
		}
		side := (2 * p.HalfEdge) / p.Step
		assert.Equal(t, side*side*(h/p.Step), p.Total(), "%+v", p)
	}
	assert.Equal(t, 128*128*64, GridParams{HalfEdge: 2048, Step: 32}.Total())
}

func TestGridParams_IndexIsBijection(t *testing.T) {
	t.Parallel()
	for _, p := range []GridParams{
		{HalfEdge: 4, Step: 1},
		{HalfEdge: 64, Step: 16, Height: 32},
		{HalfEdge: 5, Step: 1, Height: 10},
	} {
		nx, ny, nz := p.Dims()
		seen := make([]bool, p.Total())
		for zi := 0; zi < nz; zi++ {
			for yi := 0; yi < ny; yi++ {
				for xi := 0; xi < nx; xi++ {
					idx := p.Index(xi, yi, zi)
					require.GreaterOrEqual(t, idx, 0)
					require.Less(t, idx, p.Total())
					require.False(t, seen[idx], "index %d hit twice", idx)
					seen[idx] = true

					gx, gy, gz := p.Lattice(idx)
					require.Equal(t, [3]int{xi, yi, zi}, [3]int{gx, gy, gz})

					wx, wy, wz := p.World(xi, yi, zi)
					back, ok := p.IndexOfWorld(wx, wy, wz)
					require.True(t, ok)
					require.Equal(t, idx, back)
				}
			}
		}
	}
}

func TestGridParams_IndexOfWorldRejectsOffLattice(t *testing.T) {
	t.Parallel()
	p := GridParams{HalfEdge: 64, Step: 16}
	for _, pt := range [][3]int{{1, 0, 0}, {64, 0, 0}, {-80, 0, 0}, {0, 0, 64}, {0, 0, -16}} {
		_, ok := p.IndexOfWorld(pt[0], pt[1], pt[2])
		assert.False(t, ok, "%v", pt)
	}
	idx, ok := p.IndexOfWorld(-64, -64, 0)
	assert.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestGridParams_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, GridParams{HalfEdge: 64, Step: 16}.Validate())
	assert.Error(t, GridParams{HalfEdge: 64, Step: 0}.Validate())
	assert.Error(t, GridParams{HalfEdge: 60, Step: 16}.Validate())
	assert.Error(t, GridParams{HalfEdge: 64, Step: 16, Height: 20}.Validate())
}

func TestGridParamsFromTuning(t *testing.T) {
	t.Parallel()
	p := GridParamsFromTuning(config.EmptyTuningConfig())
	assert.Equal(t, GridParams{HalfEdge: 2048, Step: 32}, p)
}

func TestGridParams_Corners(t *testing.T) {
	t.Parallel()
	c := GridParams{HalfEdge: 10, Step: 5, Height: 20}.Corners()
	require.Len(t, c, 8)
	for i := 0; i < 4; i++ {
		assert.Zero(t, c[i].Z)
		assert.Equal(t, 20.0, c[i+4].Z)
		assert.Equal(t, c[i].X, c[i+4].X)
	}
}

func TestBuilder_Build(t *testing.T) {
	t.Parallel()
	params := GridParams{HalfEdge: 4, Step: 2}
	cams := []l1cameras.Camera{overheadCamera("a", 4, 8), overheadCamera("b", 0, 8)}

	g, err := NewBuilder(BuilderConfig{Workers: 2}).Build(context.Background(), cams, params)
	require.NoError(t, err)
	assert.Equal(t, params.Total(), g.Len())
	assert.Equal(t, 2, g.Cameras)

	for i := 0; i < g.Len(); i++ {
		v := g.Voxel(i)
		px, ok := g.Projection(i, 0)
		assert.Equal(t, image.Pt(v.X+4, v.Y+4), px)
		assert.True(t, ok)

		px, ok = g.Projection(i, 1)
		assert.Equal(t, image.Pt(v.X, v.Y), px)
		assert.Equal(t, v.X >= 0 && v.Y >= 0, ok, "voxel %d at %d,%d", i, v.X, v.Y)
	}
}

func TestBuilder_BuildCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(BuilderConfig{}).Build(ctx, []l1cameras.Camera{overheadCamera("a", 0, 8)}, GridParams{HalfEdge: 4, Step: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCache_RoundTrip(t *testing.T) {
	t.Parallel()
	params := GridParams{HalfEdge: 6, Step: 2, Height: 4}
	cams := []l1cameras.Camera{overheadCamera("a", 3, 10), overheadCamera("b", -1, 10), overheadCamera("c", 0, 4)}
	g, err := NewBuilder(BuilderConfig{}).Build(context.Background(), cams, params)
	require.NoError(t, err)
	key := KeyFor(cams, params)

	var buf bytes.Buffer
	require.NoError(t, WriteCache(&buf, g, key.Fingerprint))

	back, err := ReadCache(&buf, key)
	require.NoError(t, err)
	require.Equal(t, g.Len(), back.Len())
	if diff := cmp.Diff(g.voxels, back.voxels); diff != "" {
		t.Fatalf("voxels differ (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(g.pixels, back.pixels); diff != "" {
		t.Fatalf("projections differ (-want +got):\n%s", diff)
	}
	assert.Equal(t, g.valid, back.valid)
}

func TestReadCache_Errors(t *testing.T) {
	t.Parallel()
	params := GridParams{HalfEdge: 2, Step: 1, Height: 1}
	cams := []l1cameras.Camera{overheadCamera("a", 2, 4)}
	g, err := NewBuilder(BuilderConfig{}).Build(context.Background(), cams, params)
	require.NoError(t, err)
	key := KeyFor(cams, params)

	var buf bytes.Buffer
	require.NoError(t, WriteCache(&buf, g, key.Fingerprint))
	good := buf.String()
	lines := strings.SplitAfter(good, "\n")

	otherCams := key
	otherCams.Cameras = 2
	otherPrint := key
	otherPrint.Fingerprint = "deadbeef"
	otherGrid := key
	otherGrid.Params = GridParams{HalfEdge: 2, Step: 1, Height: 2}

	swapped := append([]string{}, lines...)
	swapped[1], swapped[2] = swapped[2], swapped[1]

	tests := []struct {
		name string
		data string
		key  CacheKey
		want error
	}{
		{"camera count", good, otherCams, ErrCacheMismatch},
		{"fingerprint", good, otherPrint, ErrCacheMismatch},
		{"grid params", good, otherGrid, ErrCacheMismatch},
		{"empty", "", key, ErrCacheFormat},
		{"no magic", "hello,world\n", key, ErrCacheFormat},
		{"truncated", strings.Join(lines[:len(lines)-2], ""), key, ErrCacheFormat},
		{"extra record", good + lines[1], key, ErrCacheFormat},
		{"out of order", strings.Join(swapped, ""), key, ErrCacheFormat},
		{"bad number", strings.Replace(good, "\n-2,-2,0,", "\n-2,x,0,", 1), key, ErrCacheFormat},
		{"bad validity", strings.Replace(good, ",1\n", ",7\n", 1), key, ErrCacheFormat},
		{"short record", strings.Replace(good, ",1\n", "\n", 1), key, ErrCacheFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCache(strings.NewReader(tt.data), tt.key)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestBuilder_LoadOrBuild(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	params := GridParams{HalfEdge: 4, Step: 2}
	cams := []l1cameras.Camera{overheadCamera("a", 4, 8)}
	b := NewBuilder(BuilderConfig{FS: fsys, CachePath: "/data/voxels.csv"})
	ctx := context.Background()

	first, err := b.LoadOrBuild(ctx, cams, params)
	require.NoError(t, err)
	require.True(t, fsys.Exists("/data/voxels.csv"))
	written, err := fsys.ReadFile("/data/voxels.csv")
	require.NoError(t, err)

	// Second call must reuse the file unchanged.
	second, err := b.LoadOrBuild(ctx, cams, params)
	require.NoError(t, err)
	assert.Equal(t, first.pixels, second.pixels)
	again, err := fsys.ReadFile("/data/voxels.csv")
	require.NoError(t, err)
	assert.Equal(t, written, again)

	// Adding a camera invalidates the cache; it is rebuilt and replaced.
	more := append(cams, overheadCamera("b", 0, 8))
	third, err := b.LoadOrBuild(ctx, more, params)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Cameras)
	replaced, err := fsys.ReadFile("/data/voxels.csv")
	require.NoError(t, err)
	assert.NotEqual(t, written, replaced)
	assert.Equal(t, []string{"/data/voxels.csv"}, fsys.Files())
}

// calibratedCamera is a frameless Camera around a PinholeModel.
type calibratedCamera struct{ *l1cameras.PinholeModel }

func (calibratedCamera) ID() string                          { return "pinhole" }
func (calibratedCamera) FrameCount() int                     { return 0 }
func (calibratedCamera) CurrentFrame() int                   { return 0 }
func (calibratedCamera) SetFrame(int) error                  { return nil }
func (calibratedCamera) Frame() image.Image                  { return nil }
func (calibratedCamera) ForegroundMask() *image.Gray         { return nil }
func (calibratedCamera) VideoFrame(int) (image.Image, error) { return nil, nil }

func pinholeAt(t *testing.T, cx float64) l1cameras.Camera {
	t.Helper()
	m, err := l1cameras.NewPinholeModel(l1cameras.Calibration{
		ID:          "front",
		Width:       1000,
		Height:      1000,
		Fx:          500,
		Fy:          500,
		Cx:          cx,
		Cy:          500,
		Rotation:    [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Translation: [3]float64{0, 0, 200},
	})
	require.NoError(t, err)
	return calibratedCamera{m}
}

func TestBuilder_LoadOrBuildRebuildsAfterRecalibration(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	params := GridParams{HalfEdge: 64, Step: 16}
	b := NewBuilder(BuilderConfig{FS: fsys, CachePath: "/voxels.csv"})
	ctx := context.Background()

	_, err := b.LoadOrBuild(ctx, []l1cameras.Camera{pinholeAt(t, 500)}, params)
	require.NoError(t, err)
	written, err := fsys.ReadFile("/voxels.csv")
	require.NoError(t, err)

	recalibrated := []l1cameras.Camera{pinholeAt(t, 500.1)}
	for _, corner := range params.Corners() {
		require.Equal(t, pinholeAt(t, 500).Project(corner), recalibrated[0].Project(corner))
	}

	got, err := b.LoadOrBuild(ctx, recalibrated, params)
	require.NoError(t, err)
	want, err := NewBuilder(BuilderConfig{}).Build(ctx, recalibrated, params)
	require.NoError(t, err)
	if diff := cmp.Diff(want.pixels, got.pixels); diff != "" {
		t.Errorf("projections differ from a fresh build (-want +got):\n%s", diff)
	}

	replaced, err := fsys.ReadFile("/voxels.csv")
	require.NoError(t, err)
	assert.NotEqual(t, written, replaced)
}

func TestBuilder_LoadOrBuildRecoversFromGarbage(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/voxels.csv", []byte("not,a,cache\n"), 0644))
	b := NewBuilder(BuilderConfig{FS: fsys, CachePath: "/voxels.csv"})

	cams := []l1cameras.Camera{overheadCamera("a", 4, 8)}
	params := GridParams{HalfEdge: 4, Step: 2}
	g, err := b.LoadOrBuild(context.Background(), cams, params)
	require.NoError(t, err)
	assert.Equal(t, params.Total(), g.Len())

	data, err := fsys.ReadFile("/voxels.csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "voxelcache,1,1,4,2,4,"))
}

func TestBuilder_LoadOrBuildNoCameras(t *testing.T) {
	t.Parallel()
	_, err := NewBuilder(BuilderConfig{}).LoadOrBuild(context.Background(), nil, GridParams{HalfEdge: 4, Step: 2})
	assert.Error(t, err)
}
