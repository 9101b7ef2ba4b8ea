package l4appearance

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulissebordignon/voxeltrack/internal/config"
	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l1cameras"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l2voxels"
)

func testConfig(k int) AppearanceConfig {
	return AppearanceConfig{
		Clusters: k,
		Bins:     8,
		Total:    100,
		Space:    RGB,
		KMeans:   KMeansConfig{Attempts: 3, MaxIterations: 50, Epsilon: 0.01, Seed: 1},
		Palette:  BuildPalette(k, nil),
	}
}

func TestHistogramNormalize(t *testing.T) {
	t.Parallel()
	h := Histogram{1, 3, 0, 4}
	h.Normalize(100)
	assert.InDeltaSlice(t, []float64{12.5, 37.5, 0, 50}, h, 1e-9)

	zero := Histogram{0, 0, 0}
	zero.Normalize(100)
	assert.Equal(t, Histogram{0, 0, 0}, zero)
}

func TestChiSquared(t *testing.T) {
	t.Parallel()
	a := Histogram{10, 0, 5}
	assert.Zero(t, ChiSquared(a, a))

	b := Histogram{0, 0, 5}
	// (10-0)^2/10 = 10, halved
	assert.InDelta(t, 5.0, ChiSquared(a, b), 1e-9)
	assert.Equal(t, ChiSquared(a, b), ChiSquared(b, a))
}

func TestDistance_AveragesChannels(t *testing.T) {
	t.Parallel()
	a := ChannelHistograms{{10, 0}, {10, 0}, {10, 0}}
	b := ChannelHistograms{{0, 10}, {10, 0}, {10, 0}}
	// channel 0 contributes (100/10 + 100/10)/2 = 10
	assert.InDelta(t, 10.0/3, Distance(a, b), 1e-9)
}

func TestSampleHistogram_RGBBins(t *testing.T) {
	t.Parallel()
	cfg := testConfig(1)
	h := SampleHistogram(255, 0, 128, cfg)
	assert.Equal(t, 100.0, h[0][7])
	assert.Equal(t, 100.0, h[1][0])
	assert.Equal(t, 100.0, h[2][4])
}

func TestSampleHistogram_HSVBins(t *testing.T) {
	t.Parallel()
	cfg := testConfig(1)
	cfg.Space = HSV
	h := SampleHistogram(0, 0, 255, cfg) // hue 240, full saturation and value
	assert.Equal(t, 100.0, h[0][5])
	assert.Equal(t, 100.0, h[1][7])
	assert.Equal(t, 100.0, h[2][7])
}

func TestKMeans_SeparatesBlobs(t *testing.T) {
	t.Parallel()
	var pts []r2.Point
	blobs := []r2.Point{{X: -100, Y: -100}, {X: 100, Y: 0}, {X: 0, Y: 150}}
	for _, c := range blobs {
		for dx := -2.0; dx <= 2; dx++ {
			for dy := -2.0; dy <= 2; dy++ {
				pts = append(pts, r2.Point{X: c.X + dx, Y: c.Y + dy})
			}
		}
	}

	res, err := KMeans(pts, 3, testConfig(3).KMeans)
	require.NoError(t, err)
	require.Len(t, res.Centers, 3)
	require.Len(t, res.Labels, len(pts))

	for _, want := range blobs {
		found := false
		for _, c := range res.Centers {
			if c.Sub(want).Norm() < 1e-6 {
				found = true
			}
		}
		assert.True(t, found, "no center at %v: %v", want, res.Centers)
	}
	for b := range blobs {
		first := res.Labels[b*25]
		for i := b * 25; i < (b+1)*25; i++ {
			assert.Equal(t, first, res.Labels[i])
		}
	}
}

func TestKMeans_Deterministic(t *testing.T) {
	t.Parallel()
	pts := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 5}, {X: 7, Y: 2}, {X: 9, Y: 9}, {X: 4, Y: 4}, {X: 8, Y: 1}}
	cfg := KMeansConfig{Attempts: 4, MaxIterations: 20, Seed: 99}
	a, err := KMeans(pts, 2, cfg)
	require.NoError(t, err)
	b, err := KMeans(pts, 2, cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestKMeans_Errors(t *testing.T) {
	t.Parallel()
	_, err := KMeans([]r2.Point{{X: 1}}, 2, KMeansConfig{})
	assert.ErrorIs(t, err, ErrTooFewPoints)
	_, err = KMeans([]r2.Point{{X: 1}}, 0, KMeansConfig{})
	assert.Error(t, err)
}

func TestKMeans_IdenticalPoints(t *testing.T) {
	t.Parallel()
	pts := []r2.Point{{X: 3, Y: 3}, {X: 3, Y: 3}, {X: 3, Y: 3}}
	res, err := KMeans(pts, 2, KMeansConfig{Attempts: 1, MaxIterations: 5})
	require.NoError(t, err)
	assert.Zero(t, res.Inertia)
}

// lineScene places a camera above the column at the origin looking straight
// down, so every voxel in a column shares one pixel.
func lineScene(t *testing.T) (*l2voxels.Grid, []l1cameras.Camera) {
	t.Helper()
	params := l2voxels.GridParams{HalfEdge: 2, Step: 1, Height: 4}
	top := l1cameras.NewSyntheticCamera("top", image.Pt(4, 4), r3.Vector{Z: 50},
		func(p r3.Vector) image.Point { return image.Pt(int(p.X)+2, int(p.Y)+2) })
	side := l1cameras.NewSyntheticCamera("side", image.Pt(4, 4), r3.Vector{X: -50, Z: 2},
		func(p r3.Vector) image.Point { return image.Pt(int(p.Y)+2, int(p.Z)) })
	cams := []l1cameras.Camera{top, side}
	g, err := l2voxels.NewBuilder(l2voxels.BuilderConfig{}).Build(context.Background(), cams, params)
	require.NoError(t, err)
	return g, cams
}

func TestResolveOcclusion_NearestWins(t *testing.T) {
	t.Parallel()
	g, cams := lineScene(t)
	var column []int
	for z := 0; z < 4; z++ {
		i, ok := g.Params.IndexOfWorld(0, 0, z)
		require.True(t, ok)
		column = append(column, i)
	}

	attrs, err := ResolveOcclusion(context.Background(), g, cams, column, 0)
	require.NoError(t, err)
	require.Len(t, attrs, 2)

	require.Len(t, attrs[0], 1, "the top camera sees only the highest voxel")
	assert.Equal(t, column[3], attrs[0][0].Voxel)
	assert.Equal(t, Unlabelled, attrs[0][0].Label)

	assert.Len(t, attrs[1], 4, "the side camera sees each voxel at a different row")
	assert.IsIncreasing(t, []int{attrs[1][0].Voxel, attrs[1][1].Voxel, attrs[1][2].Voxel, attrs[1][3].Voxel})
}

func TestResolveOcclusion_MinHeight(t *testing.T) {
	t.Parallel()
	g, cams := lineScene(t)
	var occupied []int
	for i := 0; i < g.Len(); i++ {
		occupied = append(occupied, i)
	}
	attrs, err := ResolveOcclusion(context.Background(), g, cams, occupied, 2)
	require.NoError(t, err)
	for _, list := range attrs {
		for _, a := range list {
			assert.GreaterOrEqual(t, g.Voxel(a.Voxel).Z, 2)
		}
	}
}

func TestResolveOcclusion_TieKeepsLowerIndex(t *testing.T) {
	t.Parallel()
	params := l2voxels.GridParams{HalfEdge: 1, Step: 1, Height: 1}
	// everything lands on one pixel and the camera is equidistant from
	// the two voxels on the y = 0 row.
	cam := l1cameras.NewSyntheticCamera("c", image.Pt(1, 1), r3.Vector{X: -0.5, Y: 0, Z: 10},
		func(r3.Vector) image.Point { return image.Pt(0, 0) })
	cams := []l1cameras.Camera{cam}
	g, err := l2voxels.NewBuilder(l2voxels.BuilderConfig{}).Build(context.Background(), cams, params)
	require.NoError(t, err)
	a, _ := params.IndexOfWorld(-1, 0, 0)
	b, _ := params.IndexOfWorld(0, 0, 0)

	attrs, err := ResolveOcclusion(context.Background(), g, cams, []int{a, b}, 0)
	require.NoError(t, err)
	require.Len(t, attrs[0], 1)
	assert.Equal(t, min(a, b), attrs[0][0].Voxel)
}

func TestBuildModelSet(t *testing.T) {
	t.Parallel()
	cfg := testConfig(2)
	frame := image.NewRGBA(image.Rect(0, 0, 2, 1))
	frame.Set(0, 0, color.RGBA{R: 255, A: 255})
	frame.Set(1, 0, color.RGBA{B: 255, A: 255})
	attrs := [][]Attribute{{
		{Voxel: 0, Pixel: image.Pt(0, 0), Label: 0},
		{Voxel: 1, Pixel: image.Pt(1, 0), Label: 1},
		{Voxel: 2, Pixel: image.Pt(1, 0), Label: Unlabelled},
	}}

	set, err := BuildModelSet(cfg, attrs, []image.Image{frame})
	require.NoError(t, err)
	require.Equal(t, 2, set.K())
	assert.Equal(t, 100.0, set.Models[0].Histograms[0][7])
	assert.Equal(t, 100.0, set.Models[1].Histograms[2][7])

	k, d := set.Nearest(SampleHistogram(250, 0, 0, cfg))
	assert.Equal(t, 0, k)
	assert.Zero(t, d)

	_, err = BuildModelSet(cfg, attrs, nil)
	assert.Error(t, err)
}

func TestModelFile_RoundTrip(t *testing.T) {
	t.Parallel()
	cfg := testConfig(3)
	cfg.Space = HSV
	set := &ModelSet{Space: HSV, Bins: cfg.Bins}
	for k := 0; k < 3; k++ {
		h := NewChannelHistograms(cfg.Bins)
		h[0][k] = 100.0 / 3 * float64(k+1) / 7
		h[1][k+1] = 100
		h[2][0] = 0.1 + 0.2
		h[2][1] = math.Nextafter(12.25, 13)
		set.Models = append(set.Models, ColorModel{Color: modelColor(cfg.Palette[k]), Histograms: h})
	}

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, SaveModels(fsys, "data/models.yml", set))
	got, err := LoadModels(fsys, "data/models.yml", cfg)
	require.NoError(t, err)
	// Bit-exact: no tolerance.
	if diff := cmp.Diff(set, got); diff != "" {
		t.Errorf("model set mismatch (-want +got):\n%s", diff)
	}

	data, err := fsys.ReadFile("data/models.yml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "Cluster2:")
	assert.Contains(t, string(data), "color_space: hsv")
}

func TestModelFile_Malformed(t *testing.T) {
	t.Parallel()
	cfg := testConfig(2)
	cfg.Bins = 2
	valid := "color_space: rgb\nbins: 2\n" +
		"Cluster0:\n  color: [1, 0, 0, 1]\n  histograms: [[1, 2], [3, 4], [5, 6]]\n" +
		"Cluster1:\n  color: [0, 1, 0, 1]\n  histograms: [[1, 2], [3, 4], [5, 6]]\n"
	_, err := UnmarshalModels([]byte(valid), cfg)
	require.NoError(t, err)

	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "{{{"},
		{"sequence", "- 1\n- 2\n"},
		{"missing cluster", "Cluster0:\n  color: [1, 0, 0, 1]\n  histograms: [[1, 2], [3, 4], [5, 6]]\n"},
		{"extra cluster", valid + "Cluster2:\n  color: [1, 0, 0, 1]\n  histograms: [[1, 2], [3, 4], [5, 6]]\n"},
		{"short histogram", "Cluster0:\n  color: [1, 0, 0, 1]\n  histograms: [[1], [3, 4], [5, 6]]\n" +
			"Cluster1:\n  color: [0, 1, 0, 1]\n  histograms: [[1, 2], [3, 4], [5, 6]]\n"},
		{"two histograms", "Cluster0:\n  color: [1, 0, 0, 1]\n  histograms: [[1, 2], [3, 4]]\n" +
			"Cluster1:\n  color: [0, 1, 0, 1]\n  histograms: [[1, 2], [3, 4], [5, 6]]\n"},
		{"short color", "Cluster0:\n  color: [1, 0, 0]\n  histograms: [[1, 2], [3, 4], [5, 6]]\n" +
			"Cluster1:\n  color: [0, 1, 0, 1]\n  histograms: [[1, 2], [3, 4], [5, 6]]\n"},
		{"wrong space", "color_space: hsv\n" + valid[len("color_space: rgb\n"):]},
		{"wrong bins", "bins: 3\n" + valid[len("color_space: rgb\nbins: 2\n"):]},
		{"unknown key", "extra: 1\n" + valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalModels([]byte(tt.data), cfg)
			assert.ErrorIs(t, err, ErrMalformedModels)
		})
	}
}

func TestLoadModels_Missing(t *testing.T) {
	t.Parallel()
	_, err := LoadModels(fsutil.NewMemoryFileSystem(), "nope.yml", testConfig(2))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedModels)
}

func TestBuildPalette(t *testing.T) {
	t.Parallel()
	red, err := colorful.Hex("#ff0000")
	require.NoError(t, err)

	p := BuildPalette(6, []colorful.Color{red})
	require.Len(t, p, 6)
	assert.Equal(t, "#ff0000", p[0].Hex())
	seen := map[string]bool{}
	for _, c := range p {
		assert.True(t, c.IsValid())
		assert.False(t, seen[c.Hex()], "duplicate color %s", c.Hex())
		seen[c.Hex()] = true
	}

	assert.Equal(t, color.RGBA{R: 255, A: 255}, RGBA(red))
	m := ColorModel{Color: modelColor(red)}
	assert.Equal(t, color.RGBA{R: 255, A: 255}, m.RGBA())
}

func TestAppearanceConfigFromTuning(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultTuningConfig()
	cfg.Palette = []string{"#00ff00"}
	got, err := AppearanceConfigFromTuning(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.GetClusters(), got.Clusters)
	assert.Len(t, got.Palette, got.Clusters)
	assert.Equal(t, "#00ff00", got.Palette[0].Hex())
	assert.Equal(t, ColorSpace(cfg.GetColorSpace()), got.Space)
	assert.Equal(t, cfg.GetUnassignedColor(), got.Unassigned.Hex())

	cfg.Palette = []string{"nope"}
	_, err = AppearanceConfigFromTuning(cfg)
	assert.Error(t, err)
}
