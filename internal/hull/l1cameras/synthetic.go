package l1cameras

import (
	"fmt"
	"image"
	"sync"

	"github.com/golang/geo/r3"
)

// SyntheticCamera is an in-memory Camera with a caller-supplied projection.
// It drives unit tests and the synthetic scene used by end-to-end tests.
type SyntheticCamera struct {
	Name        string
	Size        image.Point
	Loc         r3.Vector
	ProjectFunc func(r3.Vector) image.Point

	mu      sync.RWMutex
	frames  []image.Image
	masks   []*image.Gray
	current int
}

// NewSyntheticCamera returns a camera with no frames.
func NewSyntheticCamera(name string, size image.Point, loc r3.Vector, project func(r3.Vector) image.Point) *SyntheticCamera {
	return &SyntheticCamera{Name: name, Size: size, Loc: loc, ProjectFunc: project}
}

// AddFrame appends a frame and its foreground mask.
func (c *SyntheticCamera) AddFrame(frame image.Image, mask *image.Gray) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	c.masks = append(c.masks, mask)
}

// ID returns the camera name.
func (c *SyntheticCamera) ID() string { return c.Name }

// Project applies ProjectFunc.
func (c *SyntheticCamera) Project(p r3.Vector) image.Point { return c.ProjectFunc(p) }

// Location returns Loc.
func (c *SyntheticCamera) Location() r3.Vector { return c.Loc }

// ImageSize returns Size.
func (c *SyntheticCamera) ImageSize() image.Point { return c.Size }

// FrameCount returns the number of frames added.
func (c *SyntheticCamera) FrameCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.frames)
}

// CurrentFrame returns the selected frame index.
func (c *SyntheticCamera) CurrentFrame() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// SetFrame selects frame index.
func (c *SyntheticCamera) SetFrame(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.frames) {
		return fmt.Errorf("camera %s: frame %d out of range [0, %d)", c.Name, index, len(c.frames))
	}
	c.current = index
	return nil
}

// Frame returns the selected frame, or nil when none were added.
func (c *SyntheticCamera) Frame() image.Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[c.current]
}

// ForegroundMask returns the selected mask, or nil when none were added.
func (c *SyntheticCamera) ForegroundMask() *image.Gray {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.masks) == 0 {
		return nil
	}
	return c.masks[c.current]
}

// VideoFrame returns frame index without moving the cursor.
func (c *SyntheticCamera) VideoFrame(index int) (image.Image, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.frames) {
		return nil, fmt.Errorf("camera %s: frame %d out of range [0, %d)", c.Name, index, len(c.frames))
	}
	return c.frames[index], nil
}

// NewMask returns an all-background mask of the given size.
func NewMask(size image.Point) *image.Gray {
	return image.NewGray(image.Rect(0, 0, size.X, size.Y))
}

// MarkForeground sets p in mask to ForegroundValue when p is in bounds.
func MarkForeground(mask *image.Gray, p image.Point) {
	if p.In(mask.Rect) {
		mask.Pix[mask.PixOffset(p.X, p.Y)] = ForegroundValue
	}
}

var _ Camera = (*SyntheticCamera)(nil)
