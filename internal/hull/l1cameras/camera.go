package l1cameras

import (
	"image"

	"github.com/golang/geo/r3"
)

// ForegroundValue is the mask byte that marks a foreground pixel.
// Any other value is background.
const ForegroundValue = 255

// Camera is one calibrated, frame-synchronised view of the scene.
//
// Project and Location must be pure functions of the calibration so that the
// voxel grid can precompute projections once per camera configuration.
// ForegroundMask and Frame refer to the frame selected by SetFrame.
type Camera interface {
	// ID names the camera in logs and cache diagnostics.
	ID() string

	// ForegroundMask returns the foreground plane for the current frame.
	// Callers must treat the returned image as read-only.
	ForegroundMask() *image.Gray

	// Project maps a world point to a pixel coordinate. The result may lie
	// outside the image; callers check it against ImageSize.
	Project(p r3.Vector) image.Point

	// Location is the camera centre in world coordinates.
	Location() r3.Vector

	// ImageSize is the width and height of frames and masks.
	ImageSize() image.Point

	// Frame returns the color frame for the current frame index.
	Frame() image.Image

	// VideoFrame returns the color frame at index without moving the cursor.
	VideoFrame(index int) (image.Image, error)

	// FrameCount is the number of frames available.
	FrameCount() int

	// SetFrame moves the cursor to index.
	SetFrame(index int) error

	// CurrentFrame is the index selected by the last SetFrame.
	CurrentFrame() int
}

// InBounds reports whether p lies inside an image of the given size.
func InBounds(size, p image.Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < size.X && p.Y < size.Y
}

// IsForeground reports whether the mask marks p as foreground. p is relative
// to the mask origin; a nil mask has no foreground.
func IsForeground(mask *image.Gray, p image.Point) bool {
	if mask == nil {
		return false
	}
	q := p.Add(mask.Rect.Min)
	if !q.In(mask.Rect) {
		return false
	}
	return mask.Pix[mask.PixOffset(q.X, q.Y)] == ForegroundValue
}

// PixelAt samples img at p relative to the image origin.
func PixelAt(img image.Image, p image.Point) (r, g, b uint8) {
	c := img.At(img.Bounds().Min.X+p.X, img.Bounds().Min.Y+p.Y)
	r32, g32, b32, _ := c.RGBA()
	return uint8(r32 >> 8), uint8(g32 >> 8), uint8(b32 >> 8)
}
