package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r2"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
	"github.com/ulissebordignon/voxeltrack/internal/httputil"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l4appearance"
	"github.com/ulissebordignon/voxeltrack/internal/monitoring"
	"github.com/ulissebordignon/voxeltrack/internal/security"
)

const plotSize = 8 * vg.Inch

// clusterColors returns one display colour per cluster: the model colours
// when models exist, otherwise a generated palette.
func clusterColors(set *l4appearance.ModelSet, k int) []color.RGBA {
	out := make([]color.RGBA, k)
	if set != nil && set.K() >= k {
		for i := range out {
			out[i] = set.Models[i].RGBA()
		}
		return out
	}
	for i, c := range l4appearance.BuildPalette(k, nil) {
		out[i] = l4appearance.RGBA(c)
	}
	return out
}

func xys(seq []r2.Point) plotter.XYs {
	pts := make(plotter.XYs, len(seq))
	for i, p := range seq {
		pts[i].X = p.X
		pts[i].Y = p.Y
	}
	return pts
}

// RenderTrajectories draws each cluster's refined trail as a line and its
// unrefined centres as faint points, encoded as PNG.
func RenderTrajectories(refined, unrefined [][]r2.Point, colors []color.RGBA) ([]byte, error) {
	p := plot.New()
	p.Title.Text = "Ground-plane trajectories"
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"
	p.Add(plotter.NewGrid())

	for k, seq := range unrefined {
		if len(seq) == 0 || k >= len(colors) {
			continue
		}
		sc, err := plotter.NewScatter(xys(seq))
		if err != nil {
			return nil, fmt.Errorf("unrefined scatter %d: %w", k, err)
		}
		c := colors[k]
		c.A = 96
		sc.GlyphStyle.Color = c
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
	}

	for k, seq := range refined {
		if len(seq) == 0 || k >= len(colors) {
			continue
		}
		line, err := plotter.NewLine(xys(seq))
		if err != nil {
			return nil, fmt.Errorf("refined line %d: %w", k, err)
		}
		line.Color = colors[k]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("cluster %d", k), line)
	}
	p.Legend.Top = true
	p.Legend.Left = false

	wt, err := p.WriterTo(plotSize, plotSize, "png")
	if err != nil {
		return nil, fmt.Errorf("plot writer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render plot: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderTracker renders the tracker's current trails.
func RenderTracker(view TrackerView) ([]byte, error) {
	refined := view.GetRefinedCenters()
	unrefined := view.GetUnrefinedCenters()
	k := max(len(refined), len(unrefined))
	return RenderTrajectories(refined, unrefined, clusterColors(view.GetColorModels(), k))
}

// ExportTrajectoryPNG writes the tracker's trails to path, which must lie
// within dataDir or the temp directory. The file is replaced atomically.
func ExportTrajectoryPNG(fsys fsutil.FileSystem, path, dataDir string, view TrackerView) error {
	if err := security.ValidateArtifactPath(path, dataDir); err != nil {
		return fmt.Errorf("invalid export path: %w", err)
	}
	data, err := RenderTracker(view)
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := fsutil.WriteFileAtomic(fsys, path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	monitoring.Logf("[Monitor] wrote trajectory plot %s (%d bytes)", path, len(data))
	return nil
}

func (ws *WebServer) handleTracksPNG(w http.ResponseWriter, r *http.Request) {
	data, err := RenderTracker(ws.tracker)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

// handleExport writes the trajectory plot into the data directory.
// Query params:
//
//	name (optional, default "trajectories"); sanitised, ".png" appended
func (ws *WebServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if ws.dataDir == "" {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no data directory configured")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "trajectories"
	}
	name = strings.TrimSuffix(security.SanitizeFilename(name), ".png")
	path := filepath.Join(ws.dataDir, name+".png")
	if err := ExportTrajectoryPNG(ws.fs, path, ws.dataDir, ws.tracker); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"path": path})
}
