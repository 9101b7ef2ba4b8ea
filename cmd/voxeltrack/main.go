// Command voxeltrack reconstructs occupied voxels from a recorded
// multi-camera session and tracks people across frames by appearance.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ulissebordignon/voxeltrack/internal/config"
	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l1cameras"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l5tracks"
	"github.com/ulissebordignon/voxeltrack/internal/hull/monitor"
	"github.com/ulissebordignon/voxeltrack/internal/hull/pipeline"
	"github.com/ulissebordignon/voxeltrack/internal/hull/storage/sqlite"
	"github.com/ulissebordignon/voxeltrack/internal/monitoring"
	"github.com/ulissebordignon/voxeltrack/internal/timeutil"
	"github.com/ulissebordignon/voxeltrack/internal/version"
)

var (
	configPath     = flag.String("config", config.DefaultConfigPath, "Tuning configuration file (.json)")
	camerasPath    = flag.String("cameras", "", "Camera calibration file (.json)")
	listen         = flag.String("listen", "", "Monitor listen address, e.g. :8080 (empty disables)")
	bootstrapFrame = flag.Int("bootstrap-frame", 0, "Reference frame for building colour models")
	startFrame     = flag.Int("start", 0, "First frame to process")
	endFrame       = flag.Int("end", 0, "Frame to stop before (0 = last frame)")
	fps            = flag.Float64("fps", 0, "Playback rate in frames per second (0 = as fast as possible)")
	confirmMode    = flag.String("confirm", "ask", "Segmentation warning policy: ask, yes or no")
	exportPNG      = flag.String("export-png", "", "Write the trajectory plot here after the run")
	buildOnly      = flag.Bool("build-only", false, "Build the voxel cache and exit")
	hold           = flag.Bool("hold", false, "Keep the monitor running after the last frame")
	debug          = flag.Bool("debug", false, "Per-frame diagnostic logging")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *camerasPath == "" {
		log.Fatal("-cameras is required")
	}
	monitoring.SetDebug(*debug)

	confirm, err := confirmPolicy(*confirmMode, os.Stdin, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, confirm); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("voxeltrack: %v", err)
	}
}

func run(ctx context.Context, confirm pipeline.ConfirmFunc) (err error) {
	tuning, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		return err
	}
	fsys := fsutil.OSFileSystem{}
	if err := fsys.MkdirAll(tuning.GetDataDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cams, err := openCameras(fsys, *camerasPath, tuning)
	if err != nil {
		return err
	}
	log.Printf("loaded %d cameras from %s", len(cams), *camerasPath)

	session, err := pipeline.NewSession(ctx, tuning, fsys, cams)
	if err != nil {
		return err
	}
	log.Printf("voxel grid ready: %d voxels, tracker %s", session.Grid.Len(), session.Tracker.State())
	if *buildOnly {
		return nil
	}

	trackLog, err := l5tracks.OpenTrackLog(fsys, tuning.ArtifactPath(tuning.GetTrackLogFile()))
	if err != nil {
		return err
	}
	defer closeInto(&err, trackLog, "track log")
	sinks := []pipeline.FrameSink{trackLog}

	var store *sqlite.Store
	if name := tuning.GetTrackDBFile(); name != "" {
		store, err = sqlite.Open(tuning.ArtifactPath(name), timeutil.RealClock{})
		if err != nil {
			return err
		}
		defer closeInto(&err, store, "track DB")
		if _, err := store.StartRun(ctx, tuning); err != nil {
			return err
		}
		sinks = append(sinks, store)
	}

	var wg sync.WaitGroup
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer func() {
		stopMonitor()
		wg.Wait()
	}()
	if *listen != "" {
		ws := monitor.NewWebServer(monitor.WebServerConfig{
			Address: *listen,
			Tracker: session.Tracker,
			Store:   store,
			FS:      fsys,
			DataDir: tuning.GetDataDir(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(monitorCtx); err != nil {
				log.Printf("monitor: %v", err)
			}
		}()
	}

	cfg := pipeline.RunnerConfig{
		Cameras:        cams,
		Tracker:        session.Tracker,
		Sinks:          sinks,
		Confirm:        confirm,
		Activate:       true,
		BootstrapFrame: *bootstrapFrame,
		StartFrame:     *startFrame,
		EndFrame:       *endFrame,
	}
	if *fps > 0 {
		cfg.Clock = timeutil.RealClock{}
		cfg.FrameInterval = time.Duration(float64(time.Second) / *fps)
	}
	runner, err := pipeline.NewRunner(cfg)
	if err != nil {
		return err
	}

	stats, err := runner.Run(ctx)
	log.Printf("run finished: %d frames, %d tracked", stats.Frames, stats.Tracked)
	if err != nil {
		return err
	}

	if *exportPNG != "" {
		if err := monitor.ExportTrajectoryPNG(fsys, *exportPNG, tuning.GetDataDir(), session.Tracker); err != nil {
			return err
		}
	}

	if *hold && *listen != "" {
		log.Printf("holding monitor on %s until interrupted", *listen)
		<-ctx.Done()
	}
	return nil
}

// closeInto closes c and joins a close failure into *err.
func closeInto(err *error, c io.Closer, what string) {
	if cerr := c.Close(); cerr != nil {
		*err = errors.Join(*err, fmt.Errorf("close %s: %w", what, cerr))
	}
}

func openCameras(fsys fsutil.FileSystem, path string, tuning *config.TuningConfig) ([]l1cameras.Camera, error) {
	cals, err := l1cameras.LoadCalibrations(fsys, path)
	if err != nil {
		return nil, err
	}
	filter := l1cameras.MaskFilter{Erode: tuning.GetMaskErode(), Dilate: tuning.GetMaskDilate()}
	cams := make([]l1cameras.Camera, 0, len(cals))
	for _, cal := range cals {
		cam, err := l1cameras.NewDirectoryCamera(fsys, cal, filter)
		if err != nil {
			return nil, err
		}
		cams = append(cams, cam)
	}
	return cams, nil
}

// confirmPolicy maps the -confirm flag to a segmentation warning handler.
// "ask" prompts on out and reads a y/n answer from in.
func confirmPolicy(mode string, in io.Reader, out io.Writer) (pipeline.ConfirmFunc, error) {
	switch mode {
	case "yes":
		return func(*l5tracks.SegmentationWarning) bool { return true }, nil
	case "no":
		return func(*l5tracks.SegmentationWarning) bool { return false }, nil
	case "ask":
		reader := bufio.NewReader(in)
		return func(w *l5tracks.SegmentationWarning) bool {
			fmt.Fprintf(out, "%v\nContinue tracking? [y/N] ", w)
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return false
			}
			answer := strings.ToLower(strings.TrimSpace(line))
			return answer == "y" || answer == "yes"
		}, nil
	default:
		return nil, fmt.Errorf("invalid -confirm value %q (want ask, yes or no)", mode)
	}
}
