package l5tracks

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
)

// TrackLog appends one tab-separated line per tracked frame: the frame
// index followed by the refined x and y of every cluster in cluster order.
// An undefined centre is written as "-" for both coordinates.
type TrackLog struct {
	mu   sync.Mutex
	path string
	w    io.WriteCloser
}

// OpenTrackLog opens path for appending, creating it and its directory.
func OpenTrackLog(fsys fsutil.FileSystem, path string) (*TrackLog, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("track log dir %s: %w", dir, err)
		}
	}
	w, err := fsys.OpenAppend(path)
	if err != nil {
		return nil, fmt.Errorf("open track log %s: %w", path, err)
	}
	return &TrackLog{path: path, w: w}, nil
}

// FormatTrackLine renders the log line for res without a trailing newline.
func FormatTrackLine(res *FrameResult) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(res.Frame))
	for _, c := range res.Refined {
		if !c.Defined {
			b.WriteString("\t-\t-")
			continue
		}
		fmt.Fprintf(&b, "\t%.2f\t%.2f", c.X, c.Y)
	}
	return b.String()
}

// RecordFrame appends the line for res.
func (l *TrackLog) RecordFrame(_ context.Context, res *FrameResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.w, FormatTrackLine(res)+"\n"); err != nil {
		return fmt.Errorf("write track log %s: %w", l.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (l *TrackLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}
