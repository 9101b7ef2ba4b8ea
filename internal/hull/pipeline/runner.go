package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ulissebordignon/voxeltrack/internal/hull/l1cameras"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l5tracks"
	"github.com/ulissebordignon/voxeltrack/internal/monitoring"
	"github.com/ulissebordignon/voxeltrack/internal/timeutil"
)

// TrackingStage is the tracker surface the runner drives.
type TrackingStage interface {
	IsActive() bool
	SetActive(active bool)
	AcknowledgeSegmentation()
	BeginBootstrap(ctx context.Context, frameIndex int) error
	Update(ctx context.Context) (*l5tracks.FrameResult, error)
}

var _ TrackingStage = (*l5tracks.Tracker)(nil)

// FrameSink receives every tracked frame, e.g. the track log or the track
// store.
type FrameSink interface {
	RecordFrame(ctx context.Context, res *l5tracks.FrameResult) error
}

// ConfirmFunc decides whether tracking continues after a segmentation
// warning. Returning false deactivates the tracker.
type ConfirmFunc func(w *l5tracks.SegmentationWarning) bool

// RunnerConfig holds dependencies for the frame loop.
type RunnerConfig struct {
	Cameras []l1cameras.Camera
	Tracker TrackingStage
	Sinks   []FrameSink
	Confirm ConfirmFunc // nil declines every warning

	Activate       bool // switch tracking on before the first frame
	BootstrapFrame int  // reference frame used when models are missing
	StartFrame     int
	EndFrame       int // exclusive; 0 means the shortest camera's frame count

	// Optional playback pacing: one frame per FrameInterval on Clock.
	Clock         timeutil.Clock
	FrameInterval time.Duration
}

// Stats summarises a run.
type Stats struct {
	Frames  int // frames stepped
	Tracked int // frames that produced a tracking result
}

// Runner steps the cameras through a recorded session and feeds the tracker.
type Runner struct {
	cfg       RunnerConfig
	processed atomic.Int64
	tracked   atomic.Int64
}

// NewRunner validates cfg and creates a runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if len(cfg.Cameras) == 0 {
		return nil, fmt.Errorf("runner: no cameras")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("runner: tracker is required")
	}
	return &Runner{cfg: cfg}, nil
}

// Processed returns the number of frames stepped so far.
func (r *Runner) Processed() int64 { return r.processed.Load() }

// Tracked returns the number of frames with a tracking result so far.
func (r *Runner) Tracked() int64 { return r.tracked.Load() }

func (r *Runner) frameRange() (int, int) {
	end := r.cfg.EndFrame
	if end <= 0 {
		end = r.cfg.Cameras[0].FrameCount()
		for _, cam := range r.cfg.Cameras[1:] {
			end = min(end, cam.FrameCount())
		}
	}
	return r.cfg.StartFrame, end
}

// Run steps every frame in range until done or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	start, end := r.frameRange()
	if r.cfg.Activate {
		r.cfg.Tracker.SetActive(true)
	}

	var tick <-chan time.Time
	if r.cfg.Clock != nil && r.cfg.FrameInterval > 0 {
		ticker := r.cfg.Clock.NewTicker(r.cfg.FrameInterval)
		defer ticker.Stop()
		tick = ticker.C()
	}

	var stats Stats
	for frame := start; frame < end; frame++ {
		if tick != nil && frame > start {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return stats, err
		}

		res, err := r.Step(ctx, frame)
		if err != nil {
			return stats, fmt.Errorf("frame %d: %w", frame, err)
		}
		stats.Frames++
		if res != nil {
			stats.Tracked++
		}
	}
	monitoring.Logf("[Pipeline] processed frames [%d, %d): %d tracked", start, end, stats.Tracked)
	return stats, nil
}

// Step seeks every camera to frame and runs one tracking update. It returns
// a nil result when the tracker is inactive or was deactivated by a
// declined segmentation warning.
func (r *Runner) Step(ctx context.Context, frame int) (*l5tracks.FrameResult, error) {
	for _, cam := range r.cfg.Cameras {
		if err := cam.SetFrame(frame); err != nil {
			return nil, fmt.Errorf("seek camera %s: %w", cam.ID(), err)
		}
	}
	r.processed.Add(1)

	tr := r.cfg.Tracker
	if !tr.IsActive() {
		return nil, nil
	}

	res, err := r.confirmed(func() (*l5tracks.FrameResult, error) { return tr.Update(ctx) })
	if errors.Is(err, l5tracks.ErrBootstrapRequired) {
		monitoring.Logf("[Pipeline] bootstrapping colour models from frame %d", r.cfg.BootstrapFrame)
		_, err = r.confirmed(func() (*l5tracks.FrameResult, error) {
			return nil, tr.BeginBootstrap(ctx, r.cfg.BootstrapFrame)
		})
		if err == nil {
			res, err = r.confirmed(func() (*l5tracks.FrameResult, error) { return tr.Update(ctx) })
		}
	}
	if errors.Is(err, errDeclined) || errors.Is(err, l5tracks.ErrInactive) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, sink := range r.cfg.Sinks {
		if err := sink.RecordFrame(ctx, res); err != nil {
			return nil, err
		}
	}
	r.tracked.Add(1)
	return res, nil
}

var errDeclined = errors.New("segmentation warning declined")

// confirmed runs fn and, on a segmentation warning, asks the confirm
// policy. An accepted warning is acknowledged and fn retried once; a
// declined one switches tracking off.
func (r *Runner) confirmed(fn func() (*l5tracks.FrameResult, error)) (*l5tracks.FrameResult, error) {
	res, err := fn()
	var warn *l5tracks.SegmentationWarning
	if !errors.As(err, &warn) {
		return res, err
	}
	if r.cfg.Confirm != nil && r.cfg.Confirm(warn) {
		monitoring.Logf("[Pipeline] segmentation confirmed: %v", warn)
		r.cfg.Tracker.AcknowledgeSegmentation()
		return fn()
	}
	monitoring.Logf("[Pipeline] segmentation declined, tracking off: %v", warn)
	r.cfg.Tracker.SetActive(false)
	return nil, errDeclined
}
