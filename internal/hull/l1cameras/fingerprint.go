package l1cameras

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/golang/geo/r3"
)

// Calibrated is implemented by cameras that expose their stored calibration.
// PinholeModel and DirectoryCamera satisfy it.
type Calibrated interface {
	Calibration() Calibration
}

// Fingerprint identifies a camera configuration: image size, location, and
// where each reference point lands. Calibrated cameras also contribute every
// projection parameter, so a sub-pixel recalibration changes the result.
// Camera order is significant.
func Fingerprint(cams []Camera, refs []r3.Vector) string {
	h := sha256.New()
	var buf [8]byte
	putInt := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
		h.Write(buf[:])
	}
	putFloat := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}

	putInt(len(cams))
	for _, c := range cams {
		size := c.ImageSize()
		putInt(size.X)
		putInt(size.Y)
		loc := c.Location()
		putFloat(loc.X)
		putFloat(loc.Y)
		putFloat(loc.Z)
		if cc, ok := c.(Calibrated); ok {
			cal := cc.Calibration()
			putInt(1)
			for _, v := range []float64{cal.Fx, cal.Fy, cal.Cx, cal.Cy} {
				putFloat(v)
			}
			putInt(len(cal.Distortion))
			for _, v := range cal.Distortion {
				putFloat(v)
			}
			for _, v := range cal.Rotation {
				putFloat(v)
			}
			for _, v := range cal.Translation {
				putFloat(v)
			}
		} else {
			putInt(0)
		}
		for _, p := range refs {
			px := c.Project(p)
			putInt(px.X)
			putInt(px.Y)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
