package l5tracks

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r2"

	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l1cameras"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l2voxels"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l3occupancy"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l4appearance"
	"github.com/ulissebordignon/voxeltrack/internal/monitoring"
)

// TrackerState is the lifecycle state of the tracker.
type TrackerState string

const (
	StateUninitialized TrackerState = "uninitialized" // no colour models
	StateBootstrapping TrackerState = "bootstrapping" // active, waiting for a reference frame
	StateTracking      TrackerState = "tracking"      // models loaded or built
)

// Unassigned labels a voxel too far from every stabilised centre.
const Unassigned = -1

// Center is a ground-plane cluster centre that may be undefined, for
// example when the cluster had no members.
type Center struct {
	r2.Point
	Defined bool
}

func definedAt(p r2.Point) Center { return Center{Point: p, Defined: true} }

// FrameResult is the outcome of one tracking update.
type FrameResult struct {
	Frame     int
	Occupied  []int // voxel indices, ascending
	Labels    []int // per Occupied entry: cluster index or Unassigned
	Unrefined []Center
	Refined   []Center
}

// Tracker assigns occupied voxels to K persistent appearance models and
// keeps a stabilised centre per cluster.
type Tracker struct {
	cfg    TrackerConfig
	fsys   fsutil.FileSystem
	engine *l3occupancy.Engine

	// models is replaced wholesale on bootstrap; readers never see a
	// partially built set.
	models atomic.Pointer[l4appearance.ModelSet]

	mu           sync.RWMutex
	state        TrackerState
	active       bool
	acknowledged bool
	prevRefined  []Center
	refined      [][]r2.Point
	unrefined    [][]r2.Point
	frames       int
	last         *FrameResult
}

// NewTracker creates a tracker over an occupancy engine. Persisted colour
// models at cfg.ModelPath are loaded when present and valid; otherwise the
// tracker starts uninitialised and will bootstrap on activation.
func NewTracker(engine *l3occupancy.Engine, fsys fsutil.FileSystem, cfg TrackerConfig) (*Tracker, error) {
	k := cfg.Appearance.Clusters
	if k <= 0 {
		return nil, fmt.Errorf("tracker: cluster count must be positive, got %d", k)
	}
	if engine == nil {
		return nil, fmt.Errorf("tracker: occupancy engine is required")
	}
	t := &Tracker{
		cfg:         cfg,
		fsys:        fsys,
		engine:      engine,
		state:       StateUninitialized,
		prevRefined: make([]Center, k),
		refined:     make([][]r2.Point, k),
		unrefined:   make([][]r2.Point, k),
	}

	set, err := l4appearance.LoadModels(fsys, cfg.ModelPath, cfg.Appearance)
	switch {
	case err == nil:
		t.models.Store(set)
		t.state = StateTracking
		monitoring.Logf("[Tracker] loaded %d colour models from %s", set.K(), cfg.ModelPath)
	case errors.Is(err, fs.ErrNotExist):
		monitoring.Logf("[Tracker] no colour models at %s; bootstrap on activation", cfg.ModelPath)
	default:
		monitoring.Logf("[Tracker] ignoring colour models: %v; bootstrap on activation", err)
	}
	return t, nil
}

// State returns the current lifecycle state.
func (t *Tracker) State() TrackerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// IsActive reports whether Update does per-frame work.
func (t *Tracker) IsActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// SetActive switches tracking on or off. Activating without colour models
// moves the tracker to StateBootstrapping.
func (t *Tracker) SetActive(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setActiveLocked(active)
}

// ToggleActive flips the active flag and returns the new value.
func (t *Tracker) ToggleActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setActiveLocked(!t.active)
	return t.active
}

func (t *Tracker) setActiveLocked(active bool) {
	if active == t.active {
		return
	}
	t.active = active
	if active && t.state == StateUninitialized {
		t.state = StateBootstrapping
	}
	monitoring.Logf("[Tracker] active=%v state=%s", active, t.state)
}

// AcknowledgeSegmentation accepts the current foreground quality for the
// rest of the run, silencing further SegmentationWarnings.
func (t *Tracker) AcknowledgeSegmentation() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acknowledged = true
}

// GetColorModels returns the current model set, or nil before bootstrap.
// The set is shared and must not be modified.
func (t *Tracker) GetColorModels() *l4appearance.ModelSet {
	return t.models.Load()
}

// GetRefinedCenters returns a copy of the stabilised centre sequence of
// every cluster.
func (t *Tracker) GetRefinedCenters() [][]r2.Point {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyTracks(t.refined)
}

// GetUnrefinedCenters returns a copy of the first-pass centre sequences.
func (t *Tracker) GetUnrefinedCenters() [][]r2.Point {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyTracks(t.unrefined)
}

// FramesTracked is the number of successful updates since construction.
func (t *Tracker) FramesTracked() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frames
}

// LastResult returns the most recent frame result, or nil.
func (t *Tracker) LastResult() *FrameResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

func copyTracks(in [][]r2.Point) [][]r2.Point {
	out := make([][]r2.Point, len(in))
	for k, seq := range in {
		out[k] = append([]r2.Point(nil), seq...)
	}
	return out
}

// checkSegmentation must be called with mu held.
func (t *Tracker) checkSegmentation(occupied int) error {
	total := t.engine.Grid().Len()
	if t.acknowledged || float64(occupied) <= t.cfg.WarningFraction*float64(total) {
		return nil
	}
	return &SegmentationWarning{Occupied: occupied, Total: total, Fraction: t.cfg.WarningFraction}
}

// BeginBootstrap builds colour models from the reference frame: it seeks
// every camera to frameIndex, clusters the occupied ground plane into K
// groups, samples unoccluded pixels into per-cluster histograms, persists
// the models and swaps them in. Cameras are returned to their previous
// frame afterwards. It may be called in any state to rebuild models.
func (t *Tracker) BeginBootstrap(ctx context.Context, frameIndex int) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()
	cams := t.engine.Cameras()
	restore := make([]int, len(cams))
	for c, cam := range cams {
		restore[c] = cam.CurrentFrame()
	}
	defer func() {
		for c, cam := range cams {
			if rerr := cam.SetFrame(restore[c]); rerr != nil {
				err = errors.Join(err, fmt.Errorf("restore camera %s to frame %d: %w", cam.ID(), restore[c], rerr))
			}
		}
	}()
	for _, cam := range cams {
		if err := cam.SetFrame(frameIndex); err != nil {
			return fmt.Errorf("bootstrap: seek camera %s: %w", cam.ID(), err)
		}
	}

	occupied, err := t.engine.Occupied(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := t.checkSegmentation(len(occupied)); err != nil {
		return fmt.Errorf("bootstrap frame %d: %w", frameIndex, err)
	}

	grid := t.engine.Grid()
	app := t.cfg.Appearance
	points := make([]r2.Point, len(occupied))
	for i, v := range occupied {
		points[i] = groundOf(grid, v)
	}
	km, err := l4appearance.KMeans(points, app.Clusters, app.KMeans)
	if err != nil {
		return fmt.Errorf("bootstrap frame %d: %w", frameIndex, err)
	}

	attrs, err := l4appearance.ResolveOcclusion(ctx, grid, cams, occupied, app.MinVoxelHeight)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	pos := positions(occupied)
	for c := range attrs {
		for i := range attrs[c] {
			attrs[c][i].Label = km.Labels[pos[attrs[c][i].Voxel]]
		}
	}
	set, err := l4appearance.BuildModelSet(app, attrs, frames(cams))
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := l4appearance.SaveModels(t.fsys, t.cfg.ModelPath, set); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	t.models.Store(set)
	t.state = StateTracking
	for k, c := range km.Centers {
		t.prevRefined[k] = definedAt(c)
	}
	monitoring.Logf("[Tracker] bootstrapped %d colour models from frame %d (%d voxels, inertia %.1f) in %v",
		set.K(), frameIndex, len(occupied), km.Inertia, time.Since(start))
	return nil
}

// Update advances tracking by one frame using the cameras' current frames.
func (t *Tracker) Update(ctx context.Context) (*FrameResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return nil, ErrInactive
	}
	set := t.models.Load()
	if set == nil {
		return nil, ErrBootstrapRequired
	}

	occupied, err := t.engine.Occupied(ctx)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	if err := t.checkSegmentation(len(occupied)); err != nil {
		return nil, err
	}

	cams := t.engine.Cameras()
	grid := t.engine.Grid()
	app := t.cfg.Appearance
	k := set.K()

	attrs, err := l4appearance.ResolveOcclusion(ctx, grid, cams, occupied, app.MinVoxelHeight)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	ground := make([]r2.Point, len(occupied))
	for i, v := range occupied {
		ground[i] = groundOf(grid, v)
	}

	first := firstPass(set, app, attrs, frames(cams), positions(occupied), len(occupied))
	unrefined := centroids(ground, first, k)

	candidates := make([]Center, k)
	for c := range candidates {
		switch {
		case unrefined[c].Defined:
			candidates[c] = unrefined[c]
		case t.prevRefined[c].Defined:
			candidates[c] = t.prevRefined[c]
		}
	}
	relabelled := relabel(ground, candidates, t.cfg.RelabelDistance)
	stabilized := stabilize(centroids(ground, relabelled, k), t.prevRefined, t.cfg.JumpThreshold)

	labels := make([]int, len(occupied))
	for i, p := range ground {
		labels[i] = nearest(p, stabilized, t.cfg.UnassignedDistance)
		grid.SetColor(occupied[i], t.VoxelColor(labels[i]))
	}

	for c := 0; c < k; c++ {
		if stabilized[c].Defined {
			t.refined[c] = append(t.refined[c], stabilized[c].Point)
		}
		if unrefined[c].Defined {
			t.unrefined[c] = append(t.unrefined[c], unrefined[c].Point)
		}
	}
	t.prevRefined = stabilized
	t.frames++

	res := &FrameResult{
		Frame:     cams[0].CurrentFrame(),
		Occupied:  occupied,
		Labels:    labels,
		Unrefined: unrefined,
		Refined:   append([]Center(nil), stabilized...),
	}
	t.last = res
	monitoring.Debugf("[Tracker] frame %d: %d occupied, %d unassigned", res.Frame, len(occupied), countLabel(labels, Unassigned))
	return res, nil
}

// firstPass labels each voxel seen unoccluded by at least one camera with
// the model of smallest mean histogram distance over those cameras.
// Voxels seen by no camera get Unassigned.
func firstPass(set *l4appearance.ModelSet, app l4appearance.AppearanceConfig, attrs [][]l4appearance.Attribute,
	imgs []image.Image, pos map[int]int, n int) []int {
	k := set.K()
	sums := make([]float64, n*k)
	seen := make([]bool, n)
	dist := make([]float64, k)
	for c, list := range attrs {
		if imgs[c] == nil {
			continue
		}
		for _, a := range list {
			r, g, b := l1cameras.PixelAt(imgs[c], a.Pixel)
			set.Distances(l4appearance.SampleHistogram(r, g, b, app), dist)
			i := pos[a.Voxel]
			for m := 0; m < k; m++ {
				sums[i*k+m] += dist[m]
			}
			seen[i] = true
		}
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Unassigned
		if !seen[i] {
			continue
		}
		best := math.Inf(1)
		for m := 0; m < k; m++ {
			if s := sums[i*k+m]; s < best {
				best, labels[i] = s, m
			}
		}
	}
	return labels
}

// relabel assigns every voxel to the nearest defined candidate within
// maxDist. A voxel with no such candidate joins the cluster with the fewest
// members so far, ties to the lower index.
func relabel(ground []r2.Point, candidates []Center, maxDist float64) []int {
	labels := make([]int, len(ground))
	members := make([]int, len(candidates))
	for i, p := range ground {
		label := nearest(p, candidates, maxDist)
		if label == Unassigned {
			label = 0
			for c := 1; c < len(members); c++ {
				if members[c] < members[label] {
					label = c
				}
			}
		}
		labels[i] = label
		members[label]++
	}
	return labels
}

// stabilize keeps the previous refined centre when the new centre is
// undefined or has jumped further than threshold.
func stabilize(next, prev []Center, threshold float64) []Center {
	out := make([]Center, len(next))
	for c := range next {
		switch {
		case !next[c].Defined:
			out[c] = prev[c]
		case prev[c].Defined && next[c].Sub(prev[c].Point).Norm() > threshold:
			out[c] = prev[c]
		default:
			out[c] = next[c]
		}
	}
	return out
}

// nearest returns the index of the closest defined centre within maxDist,
// ties to the lower index, or Unassigned.
func nearest(p r2.Point, centers []Center, maxDist float64) int {
	best, bestD := Unassigned, math.Inf(1)
	for c, ctr := range centers {
		if !ctr.Defined {
			continue
		}
		if d := p.Sub(ctr.Point).Norm(); d < bestD {
			best, bestD = c, d
		}
	}
	if best == Unassigned || bestD > maxDist {
		return Unassigned
	}
	return best
}

// centroids averages ground positions per label. Clusters with no members
// stay undefined.
func centroids(ground []r2.Point, labels []int, k int) []Center {
	sums := make([]r2.Point, k)
	counts := make([]int, k)
	for i, l := range labels {
		if l < 0 || l >= k {
			continue
		}
		sums[l] = sums[l].Add(ground[i])
		counts[l]++
	}
	out := make([]Center, k)
	for c := range out {
		if counts[c] > 0 {
			out[c] = definedAt(sums[c].Mul(1 / float64(counts[c])))
		}
	}
	return out
}

func groundOf(grid *l2voxels.Grid, v int) r2.Point {
	vox := grid.Voxel(v)
	return r2.Point{X: float64(vox.X), Y: float64(vox.Y)}
}

func positions(occupied []int) map[int]int {
	pos := make(map[int]int, len(occupied))
	for i, v := range occupied {
		pos[v] = i
	}
	return pos
}

func frames(cams []l1cameras.Camera) []image.Image {
	out := make([]image.Image, len(cams))
	for c, cam := range cams {
		out[c] = cam.Frame()
	}
	return out
}

func countLabel(labels []int, label int) int {
	n := 0
	for _, l := range labels {
		if l == label {
			n++
		}
	}
	return n
}

// VoxelColor returns the display colour for a final label.
func (t *Tracker) VoxelColor(label int) color.RGBA {
	set := t.models.Load()
	if label == Unassigned || set == nil || label >= set.K() {
		return l4appearance.RGBA(t.cfg.Appearance.Unassigned)
	}
	return set.Models[label].RGBA()
}
