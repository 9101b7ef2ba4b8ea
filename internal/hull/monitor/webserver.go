package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/geo/r2"

	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
	"github.com/ulissebordignon/voxeltrack/internal/httputil"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l4appearance"
	"github.com/ulissebordignon/voxeltrack/internal/hull/l5tracks"
	"github.com/ulissebordignon/voxeltrack/internal/hull/storage/sqlite"
	"github.com/ulissebordignon/voxeltrack/internal/monitoring"
	"github.com/ulissebordignon/voxeltrack/internal/version"
)

// TrackerView is the read side of the tracker plus the toggle.
type TrackerView interface {
	State() l5tracks.TrackerState
	IsActive() bool
	ToggleActive() bool
	FramesTracked() int
	GetColorModels() *l4appearance.ModelSet
	GetRefinedCenters() [][]r2.Point
	GetUnrefinedCenters() [][]r2.Point
}

var _ TrackerView = (*l5tracks.Tracker)(nil)

// WebServer handles the HTTP interface for watching a tracking run.
type WebServer struct {
	address string
	tracker TrackerView
	store   *sqlite.Store
	fs      fsutil.FileSystem
	dataDir string
	server  *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Tracker TrackerView
	Store   *sqlite.Store     // optional; enables /api/runs and tailsql
	FS      fsutil.FileSystem // export target; defaults to the OS
	DataDir string            // exports must land here or in the temp dir
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		tracker: config.Tracker,
		store:   config.Store,
		fs:      config.FS,
		dataDir: config.DataDir,
	}
	if ws.fs == nil {
		ws.fs = fsutil.OSFileSystem{}
	}

	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Handler returns the route mux, for tests and embedding.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("[Monitor] starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("monitor server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	monitoring.Logf("[Monitor] shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("[Monitor] shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("[Monitor] force close error: %v", err)
		}
	}
	monitoring.Logf("[Monitor] HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/tracks", ws.handleTracks)
	mux.HandleFunc("/api/toggle", ws.handleToggle)
	mux.HandleFunc("/api/runs", ws.handleRuns)
	mux.HandleFunc("/api/export", ws.handleExport)
	mux.HandleFunc("/charts/tracks", ws.handleTracksChart)
	mux.HandleFunc("/plots/tracks.png", ws.handleTracksPNG)
	ws.attachDebugRoutes(mux)
	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok", "version": version.String()})
}

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	State         l5tracks.TrackerState `json:"state"`
	Active        bool                  `json:"active"`
	FramesTracked int                   `json:"frames_tracked"`
	Clusters      int                   `json:"clusters"`
	Colors        []string              `json:"colors,omitempty"`
	RunID         string                `json:"run_id,omitempty"`
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	resp := StatusResponse{
		State:         ws.tracker.State(),
		Active:        ws.tracker.IsActive(),
		FramesTracked: ws.tracker.FramesTracked(),
	}
	if set := ws.tracker.GetColorModels(); set != nil {
		resp.Clusters = set.K()
		for _, m := range set.Models {
			c := m.RGBA()
			resp.Colors = append(resp.Colors, fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
		}
	}
	if ws.store != nil {
		resp.RunID = ws.store.CurrentRun()
	}
	httputil.WriteJSONOK(w, resp)
}

// TracksResponse is the /api/tracks payload. Points are [x, y] pairs.
type TracksResponse struct {
	Refined   [][][2]float64 `json:"refined"`
	Unrefined [][][2]float64 `json:"unrefined"`
}

func pairs(tracks [][]r2.Point) [][][2]float64 {
	out := make([][][2]float64, len(tracks))
	for k, seq := range tracks {
		out[k] = make([][2]float64, len(seq))
		for i, p := range seq {
			out[k][i] = [2]float64{p.X, p.Y}
		}
	}
	return out
}

func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, TracksResponse{
		Refined:   pairs(ws.tracker.GetRefinedCenters()),
		Unrefined: pairs(ws.tracker.GetUnrefinedCenters()),
	})
}

func (ws *WebServer) handleToggle(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	active := ws.tracker.ToggleActive()
	monitoring.Logf("[Monitor] tracking toggled: active=%v", active)
	httputil.WriteJSONOK(w, map[string]any{"active": active, "state": ws.tracker.State()})
}

func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if ws.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "track DB not configured")
		return
	}
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		centers, err := ws.store.Centers(r.Context(), runID)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get centers: %v", err))
			return
		}
		httputil.WriteJSONOK(w, centers)
		return
	}
	runs, err := ws.store.Runs(r.Context())
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get runs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, runs)
}
