package l1cameras

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // frame decoders
	_ "image/png"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/gift"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// ListImages returns the image files in dir sorted by name. Frame files are
// expected to sort in frame order (frame_00001.png, frame_00002.png, ...).
func ListImages(fsys fsutil.FileSystem, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list images in %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// MaskFilter cleans a decoded foreground mask. Erode and Dilate are kernel
// radii in pixels; zero disables the step. Erosion runs first, so the pair
// acts as a morphological opening that removes speckle.
type MaskFilter struct {
	Erode  int
	Dilate int
}

// Apply converts src to a binary mask holding only 0 and ForegroundValue.
func (f MaskFilter) Apply(src image.Image) *image.Gray {
	filters := []gift.Filter{gift.Grayscale()}
	if f.Erode > 0 {
		filters = append(filters, gift.Minimum(2*f.Erode+1, false))
	}
	if f.Dilate > 0 {
		filters = append(filters, gift.Maximum(2*f.Dilate+1, false))
	}
	g := gift.New(filters...)

	b := g.Bounds(src.Bounds())
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	g.Draw(dst, src)

	for i, v := range dst.Pix {
		if v >= 128 {
			dst.Pix[i] = ForegroundValue
		} else {
			dst.Pix[i] = 0
		}
	}
	return dst
}

// DirectoryCamera serves frames and masks stored as image files, one file
// per frame index, and projects through a PinholeModel.
type DirectoryCamera struct {
	*PinholeModel

	fsys   fsutil.FileSystem
	frames []string
	masks  []string
	filter MaskFilter

	mu      sync.RWMutex
	current int
	frame   image.Image
	mask    *image.Gray
}

// NewDirectoryCamera pairs the files in cal.Frames and cal.Masks by sorted
// position and loads frame 0.
func NewDirectoryCamera(fsys fsutil.FileSystem, cal Calibration, filter MaskFilter) (*DirectoryCamera, error) {
	model, err := NewPinholeModel(cal)
	if err != nil {
		return nil, err
	}
	frames, err := ListImages(fsys, cal.Frames)
	if err != nil {
		return nil, err
	}
	masks, err := ListImages(fsys, cal.Masks)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("camera %s: no frames in %s", cal.ID, cal.Frames)
	}
	if len(frames) != len(masks) {
		return nil, fmt.Errorf("camera %s: %d frames but %d masks", cal.ID, len(frames), len(masks))
	}

	c := &DirectoryCamera{
		PinholeModel: model,
		fsys:         fsys,
		frames:       frames,
		masks:        masks,
		filter:       filter,
	}
	if err := c.SetFrame(0); err != nil {
		return nil, err
	}
	return c, nil
}

// ID returns the calibration identifier.
func (c *DirectoryCamera) ID() string { return c.cal.ID }

// FrameCount returns the number of frame/mask pairs.
func (c *DirectoryCamera) FrameCount() int { return len(c.frames) }

// CurrentFrame returns the loaded frame index.
func (c *DirectoryCamera) CurrentFrame() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Frame returns the loaded color frame.
func (c *DirectoryCamera) Frame() image.Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame
}

// ForegroundMask returns the cleaned mask of the loaded frame.
func (c *DirectoryCamera) ForegroundMask() *image.Gray {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mask
}

// VideoFrame decodes frame index without changing the loaded frame.
func (c *DirectoryCamera) VideoFrame(index int) (image.Image, error) {
	if index < 0 || index >= len(c.frames) {
		return nil, fmt.Errorf("camera %s: frame %d out of range [0, %d)", c.cal.ID, index, len(c.frames))
	}
	return c.decode(c.frames[index])
}

// SetFrame decodes frame index and its mask.
func (c *DirectoryCamera) SetFrame(index int) error {
	frame, err := c.VideoFrame(index)
	if err != nil {
		return err
	}
	raw, err := c.decode(c.masks[index])
	if err != nil {
		return err
	}
	mask := c.filter.Apply(raw)
	if mask.Rect.Dx() != c.cal.Width || mask.Rect.Dy() != c.cal.Height {
		return fmt.Errorf("camera %s: mask %s is %dx%d, calibration says %dx%d",
			c.cal.ID, c.masks[index], mask.Rect.Dx(), mask.Rect.Dy(), c.cal.Width, c.cal.Height)
	}

	c.mu.Lock()
	c.current, c.frame, c.mask = index, frame, mask
	c.mu.Unlock()
	return nil
}

func (c *DirectoryCamera) decode(path string) (image.Image, error) {
	f, err := c.fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	// Normalise to a zero-origin RGBA so pixel lookups are cheap.
	rgba := image.NewRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}

var _ Camera = (*DirectoryCamera)(nil)
