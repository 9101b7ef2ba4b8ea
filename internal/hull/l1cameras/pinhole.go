package l1cameras

import (
	"encoding/json"
	"fmt"
	"image"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/ulissebordignon/voxeltrack/internal/fsutil"
)

// Calibration holds the stored intrinsic and extrinsic parameters of one
// camera. Rotation is row-major and maps world to camera coordinates
// together with Translation: Xc = R·Xw + t.
type Calibration struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`

	Fx float64 `json:"fx"`
	Fy float64 `json:"fy"`
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`

	// Distortion is k1, k2, p1, p2 and optionally k3. Empty means none.
	Distortion []float64 `json:"distortion,omitempty"`

	Rotation    [9]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`

	// Frames and Masks are directories read by DirectoryCamera.
	Frames string `json:"frames,omitempty"`
	Masks  string `json:"masks,omitempty"`
}

// CalibrationFile is the on-disk layout of a camera set.
type CalibrationFile struct {
	Cameras []Calibration `json:"cameras"`
}

// LoadCalibrations reads a camera set from a JSON calibration file.
func LoadCalibrations(fsys fsutil.FileSystem, path string) ([]Calibration, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}
	var file CalibrationFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse calibration file: %w", err)
	}
	if len(file.Cameras) == 0 {
		return nil, fmt.Errorf("calibration file %s lists no cameras", path)
	}
	for i, cal := range file.Cameras {
		if cal.ID == "" {
			file.Cameras[i].ID = fmt.Sprintf("cam%d", i)
		}
	}
	return file.Cameras, nil
}

// PinholeModel projects world points through a calibrated pinhole camera
// with Brown-Conrady lens distortion.
type PinholeModel struct {
	cal    Calibration
	rt     *mat.Dense // 3x4 [R|t]
	k      *mat.Dense // 3x3 intrinsics
	center r3.Vector
}

// NewPinholeModel validates cal and precomputes the projection matrices.
func NewPinholeModel(cal Calibration) (*PinholeModel, error) {
	if cal.Width <= 0 || cal.Height <= 0 {
		return nil, fmt.Errorf("camera %s: image size must be positive, got %dx%d", cal.ID, cal.Width, cal.Height)
	}
	if cal.Fx <= 0 || cal.Fy <= 0 {
		return nil, fmt.Errorf("camera %s: focal lengths must be positive", cal.ID)
	}
	switch len(cal.Distortion) {
	case 0, 4, 5:
	default:
		return nil, fmt.Errorf("camera %s: distortion needs 4 or 5 coefficients, got %d", cal.ID, len(cal.Distortion))
	}

	r := mat.NewDense(3, 3, cal.Rotation[:])
	var rrt mat.Dense
	rrt.Mul(r, r.T())
	if !mat.EqualApprox(&rrt, eye3(), 1e-6) {
		return nil, fmt.Errorf("camera %s: rotation is not orthonormal", cal.ID)
	}

	rt := mat.NewDense(3, 4, nil)
	rt.Slice(0, 3, 0, 3).(*mat.Dense).Copy(r)
	for i := 0; i < 3; i++ {
		rt.Set(i, 3, cal.Translation[i])
	}

	k := mat.NewDense(3, 3, []float64{
		cal.Fx, 0, cal.Cx,
		0, cal.Fy, cal.Cy,
		0, 0, 1,
	})

	// Camera centre C = -Rᵀ·t.
	var c mat.VecDense
	c.MulVec(r.T(), mat.NewVecDense(3, cal.Translation[:]))
	c.ScaleVec(-1, &c)

	return &PinholeModel{
		cal:    cal,
		rt:     rt,
		k:      k,
		center: r3.Vector{X: c.AtVec(0), Y: c.AtVec(1), Z: c.AtVec(2)},
	}, nil
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// Calibration returns the parameters the model was built from.
func (m *PinholeModel) Calibration() Calibration { return m.cal }

// Location returns the camera centre in world coordinates.
func (m *PinholeModel) Location() r3.Vector { return m.center }

// ImageSize returns the calibrated image size.
func (m *PinholeModel) ImageSize() image.Point {
	return image.Point{X: m.cal.Width, Y: m.cal.Height}
}

// Project maps a world point to the nearest pixel. Points on or behind the
// image plane map to (-1, -1), which is never in bounds.
func (m *PinholeModel) Project(p r3.Vector) image.Point {
	var xc mat.VecDense
	xc.MulVec(m.rt, mat.NewVecDense(4, []float64{p.X, p.Y, p.Z, 1}))
	z := xc.AtVec(2)
	if z <= 0 {
		return image.Point{X: -1, Y: -1}
	}

	x, y := xc.AtVec(0)/z, xc.AtVec(1)/z
	x, y = m.distort(x, y)

	var uv mat.VecDense
	uv.MulVec(m.k, mat.NewVecDense(3, []float64{x, y, 1}))
	return image.Point{X: int(math.Round(uv.AtVec(0))), Y: int(math.Round(uv.AtVec(1)))}
}

func (m *PinholeModel) distort(x, y float64) (float64, float64) {
	d := m.cal.Distortion
	if len(d) == 0 {
		return x, y
	}
	k1, k2, p1, p2 := d[0], d[1], d[2], d[3]
	k3 := 0.0
	if len(d) == 5 {
		k3 = d[4]
	}
	r2 := x*x + y*y
	radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}
