package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulissebordignon/voxeltrack/internal/config"
	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l2voxels"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l4appearance"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l5tracks"
	"github.com/ulissebordignon/voxeltrack/internal/testutil"
	"github.com/ulissebordignon/voxeltrack/internal/timeutil"
)

// sceneTuning describes a 10×10×10 lattice with three clusters.
func sceneTuning() *config.TuningConfig {
	cfg := config.DefaultTuningConfig()
	*cfg.HalfEdge = 5
	*cfg.Step = 1
	*cfg.Height = 10
	*cfg.OccupancyWorkers = 3
	*cfg.Clusters = 3
	*cfg.HistogramBins = 8
	*cfg.RelabelDistance = 4
	*cfg.JumpThreshold = 3
	*cfg.UnassignedDistance = 5
	return cfg
}

type recordingSink struct {
	mu     sync.Mutex
	frames []*l5tracks.FrameResult
}

func (s *recordingSink) RecordFrame(_ context.Context, res *l5tracks.FrameResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, res)
	return nil
}

func newSceneSession(t *testing.T, tuning *config.TuningConfig, fsys fsutil.FileSystem, frames int) (*Session, *testutil.Scene) {
	t.Helper()
	scene := testutil.NewScene(l2voxels.GridParamsFromTuning(tuning), 4)
	for i := 0; i < frames; i++ {
		scene.AddFrame(testutil.ThreeBlobs()...)
	}
	s, err := NewSession(context.Background(), tuning, fsys, scene.CameraList())
	require.NoError(t, err)
	return s, scene
}

func TestEndToEnd_ThreeBlobs(t *testing.T) {
	ctx := context.Background()
	tuning := sceneTuning()
	params := l2voxels.GridParamsFromTuning(tuning)
	require.Equal(t, 1000, params.Total())
	fsys := fsutil.NewMemoryFileSystem()
	session, _ := newSceneSession(t, tuning, fsys, 2)
	blobs := testutil.ThreeBlobs()

	// The hull is exactly the union of the blobs.
	occupied, err := session.Engine.Occupied(ctx)
	require.NoError(t, err)
	var want []int
	for _, b := range blobs {
		want = append(want, b.Voxels(params)...)
	}
	sort.Ints(want)
	assert.Equal(t, want, occupied)

	logPath := tuning.ArtifactPath(tuning.GetTrackLogFile())
	trackLog, err := l5tracks.OpenTrackLog(fsys, logPath)
	require.NoError(t, err)
	rec := &recordingSink{}
	runner, err := NewRunner(RunnerConfig{
		Cameras:        session.Cameras,
		Tracker:        session.Tracker,
		Sinks:          []FrameSink{trackLog, rec},
		Activate:       true,
		BootstrapFrame: 0,
	})
	require.NoError(t, err)

	stats, err := runner.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, trackLog.Close())
	assert.Equal(t, Stats{Frames: 2, Tracked: 2}, stats)
	assert.Equal(t, int64(2), runner.Processed())
	assert.Equal(t, int64(2), runner.Tracked())

	set := session.Tracker.GetColorModels()
	require.NotNil(t, set)
	require.Equal(t, 3, set.K())
	for k, m := range set.Models {
		for ch, h := range m.Histograms {
			var sum float64
			for _, v := range h {
				sum += v
			}
			assert.InDelta(t, 100, sum, 1e-9, "model %d channel %d", k, ch)
		}
	}

	require.Len(t, rec.frames, 2)
	second := rec.frames[1]
	assert.Equal(t, 1, second.Frame)
	label := make(map[int]int, len(second.Occupied))
	for i, v := range second.Occupied {
		label[v] = second.Labels[i]
	}
	app, err := l4appearance.AppearanceConfigFromTuning(tuning)
	require.NoError(t, err)
	seen := map[int]bool{}
	for b, blob := range blobs {
		vox := blob.Voxels(params)
		cluster := label[vox[0]]
		require.GreaterOrEqual(t, cluster, 0)
		assert.False(t, seen[cluster], "two blobs share cluster %d", cluster)
		seen[cluster] = true
		for _, v := range vox {
			assert.Equal(t, cluster, label[v], "blob %d voxel %d", b, v)
		}

		sample := l4appearance.SampleHistogram(blob.Color.R, blob.Color.G, blob.Color.B, app)
		assert.Zero(t, l4appearance.Distance(sample, set.Models[cluster].Histograms))

		require.True(t, second.Refined[cluster].Defined)
		assert.Less(t, second.Refined[cluster].Sub(blob.Centroid(params)).Norm(), 1e-6)
	}

	data, err := fsys.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for i, line := range lines {
		fields := strings.Split(line, "\t")
		assert.Len(t, fields, 7)
		assert.Equal(t, []string{"0", "1"}[i], fields[0])
	}

	assert.True(t, fsys.Exists(tuning.ArtifactPath(tuning.GetVoxelCacheFile())))
	assert.True(t, fsys.Exists(tuning.ArtifactPath(tuning.GetColorModelFile())))
}

func TestSession_ReusesArtifacts(t *testing.T) {
	ctx := context.Background()
	tuning := sceneTuning()
	fsys := fsutil.NewMemoryFileSystem()
	first, _ := newSceneSession(t, tuning, fsys, 1)
	first.Tracker.SetActive(true)
	require.NoError(t, first.Tracker.BeginBootstrap(ctx, 0))

	second, _ := newSceneSession(t, tuning, fsys, 1)
	assert.Equal(t, l5tracks.StateTracking, second.Tracker.State())
	for i := 0; i < first.Grid.Len(); i++ {
		for c := 0; c < 4; c++ {
			p1, ok1 := first.Grid.Projection(i, c)
			p2, ok2 := second.Grid.Projection(i, c)
			require.Equal(t, p1, p2)
			require.Equal(t, ok1, ok2)
		}
	}
}

func TestRunner_DeclinedWarningDeactivates(t *testing.T) {
	tuning := sceneTuning()
	*tuning.OccupancyWarningFraction = 0.1
	fsys := fsutil.NewMemoryFileSystem()
	session, _ := newSceneSession(t, tuning, fsys, 2)

	var asked int
	runner, err := NewRunner(RunnerConfig{
		Cameras:  session.Cameras,
		Tracker:  session.Tracker,
		Activate: true,
		Confirm: func(w *l5tracks.SegmentationWarning) bool {
			asked++
			assert.Equal(t, 135, w.Occupied)
			return false
		},
	})
	require.NoError(t, err)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Frames: 2, Tracked: 0}, stats)
	assert.Equal(t, 1, asked)
	assert.False(t, session.Tracker.IsActive())
	assert.False(t, fsys.Exists(tuning.ArtifactPath(tuning.GetColorModelFile())))
}

func TestRunner_ConfirmedWarningContinues(t *testing.T) {
	tuning := sceneTuning()
	*tuning.OccupancyWarningFraction = 0.1
	session, _ := newSceneSession(t, tuning, fsutil.NewMemoryFileSystem(), 3)

	var asked int
	rec := &recordingSink{}
	runner, err := NewRunner(RunnerConfig{
		Cameras:  session.Cameras,
		Tracker:  session.Tracker,
		Sinks:    []FrameSink{rec},
		Activate: true,
		Confirm: func(*l5tracks.SegmentationWarning) bool {
			asked++
			return true
		},
	})
	require.NoError(t, err)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Frames: 3, Tracked: 3}, stats)
	assert.Equal(t, 1, asked, "acknowledgement holds for the rest of the run")
	assert.Len(t, rec.frames, 3)
}

func TestRunner_InactiveSkipsTracking(t *testing.T) {
	session, _ := newSceneSession(t, sceneTuning(), fsutil.NewMemoryFileSystem(), 2)
	rec := &recordingSink{}
	runner, err := NewRunner(RunnerConfig{Cameras: session.Cameras, Tracker: session.Tracker, Sinks: []FrameSink{rec}})
	require.NoError(t, err)

	stats, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Frames: 2}, stats)
	assert.Empty(t, rec.frames)
	assert.Equal(t, l5tracks.StateUninitialized, session.Tracker.State())
}

func TestRunner_Pacing(t *testing.T) {
	session, _ := newSceneSession(t, sceneTuning(), fsutil.NewMemoryFileSystem(), 3)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	runner, err := NewRunner(RunnerConfig{
		Cameras:       session.Cameras,
		Tracker:       session.Tracker,
		Activate:      true,
		Clock:         clock,
		FrameInterval: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	done := make(chan Stats, 1)
	go func() {
		stats, err := runner.Run(context.Background())
		assert.NoError(t, err)
		done <- stats
	}()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case stats := <-done:
			assert.Equal(t, 3, stats.Frames)
			return
		case <-deadline:
			t.Fatal("runner did not finish")
		case <-time.After(5 * time.Millisecond):
			clock.Advance(100 * time.Millisecond)
		}
	}
}

func TestRunner_Cancelled(t *testing.T) {
	session, _ := newSceneSession(t, sceneTuning(), fsutil.NewMemoryFileSystem(), 2)
	runner, err := NewRunner(RunnerConfig{Cameras: session.Cameras, Tracker: session.Tracker})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRunner_Rejects(t *testing.T) {
	_, err := NewRunner(RunnerConfig{})
	assert.Error(t, err)
	session, _ := newSceneSession(t, sceneTuning(), fsutil.NewMemoryFileSystem(), 1)
	_, err = NewRunner(RunnerConfig{Cameras: session.Cameras})
	assert.Error(t, err)
}
