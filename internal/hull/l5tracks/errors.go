package l5tracks

import (
	"errors"
	"fmt"
)

var (
	// ErrNeedsConfirmation is wrapped by SegmentationWarning.
	ErrNeedsConfirmation = errors.New("segmentation needs confirmation")
	// ErrBootstrapRequired means the tracker is active but has no colour
	// models; call BeginBootstrap with a reference frame.
	ErrBootstrapRequired = errors.New("no colour models: bootstrap required")
	// ErrInactive is returned by Update while tracking is switched off.
	ErrInactive = errors.New("tracker is inactive")
)

// SegmentationWarning reports an occupied-voxel count large enough to
// suggest the foreground masks are miscalibrated.
type SegmentationWarning struct {
	Occupied int
	Total    int
	Fraction float64 // configured threshold
}

func (w *SegmentationWarning) Error() string {
	return fmt.Sprintf("%d of %d voxels occupied (%.1f%%, threshold %.1f%%): %v",
		w.Occupied, w.Total, 100*float64(w.Occupied)/float64(max(w.Total, 1)), 100*w.Fraction, ErrNeedsConfirmation)
}

func (w *SegmentationWarning) Unwrap() error { return ErrNeedsConfirmation }
