package l2voxels

import (
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"

	"github.com/ulissebordignon/voxeltrack/internal/version"
)

// CacheFormatVersion is bumped whenever the record layout changes.
const CacheFormatVersion = 1

const cacheMagic = "voxelcache"

var (
	// ErrCacheMismatch means the cache was written for a different camera
	// set or lattice. It must be rebuilt, never partially reused.
	ErrCacheMismatch = errors.New("voxel cache does not match active configuration")

	// ErrCacheFormat means the cache is truncated or malformed.
	ErrCacheFormat = errors.New("malformed voxel cache")
)

// CacheKey identifies the configuration a projection cache belongs to.
type CacheKey struct {
	Params      GridParams
	Cameras     int
	Fingerprint string
}

// WriteCache serialises g as CSV. The first record is a header
//
//	voxelcache,<format>,<cameras>,<half_edge>,<step>,<height>,<fingerprint>,<generator>
//
// followed by one record per voxel in linear-index order:
//
//	x,y,z,px0,py0,valid0,px1,py1,valid1,...
func WriteCache(w io.Writer, g *Grid, fingerprint string) error {
	cw := csv.NewWriter(w)
	p := g.Params
	header := []string{
		cacheMagic,
		strconv.Itoa(CacheFormatVersion),
		strconv.Itoa(g.Cameras),
		strconv.Itoa(p.HalfEdge),
		strconv.Itoa(p.Step),
		strconv.Itoa(p.height()),
		fingerprint,
		version.Version,
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write cache header: %w", err)
	}

	record := make([]string, 3+3*g.Cameras)
	for i := 0; i < g.Len(); i++ {
		v := g.voxels[i]
		record[0] = strconv.Itoa(v.X)
		record[1] = strconv.Itoa(v.Y)
		record[2] = strconv.Itoa(v.Z)
		for c := 0; c < g.Cameras; c++ {
			px, ok := g.Projection(i, c)
			record[3+3*c] = strconv.Itoa(px.X)
			record[4+3*c] = strconv.Itoa(px.Y)
			if ok {
				record[5+3*c] = "1"
			} else {
				record[5+3*c] = "0"
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write cache record %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCache parses a cache written by WriteCache and checks it against key.
// Header disagreement returns ErrCacheMismatch; a record whose lattice
// position does not match its line position, a wrong field count, or a
// truncated file returns ErrCacheFormat.
func ReadCache(r io.Reader, key CacheKey) (*Grid, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrCacheFormat, err)
	}
	if err := checkHeader(header, key); err != nil {
		return nil, err
	}

	g, err := NewGrid(key.Params, key.Cameras)
	if err != nil {
		return nil, err
	}

	fields := 3 + 3*key.Cameras
	for i := 0; ; i++ {
		record, err := cr.Read()
		if err == io.EOF {
			if i != g.Len() {
				return nil, fmt.Errorf("%w: %d records, want %d", ErrCacheFormat, i, g.Len())
			}
			return g, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrCacheFormat, i, err)
		}
		if i >= g.Len() {
			return nil, fmt.Errorf("%w: more than %d records", ErrCacheFormat, g.Len())
		}
		if len(record) != fields {
			return nil, fmt.Errorf("%w: record %d has %d fields, want %d", ErrCacheFormat, i, len(record), fields)
		}
		if err := parseRecord(g, i, record); err != nil {
			return nil, err
		}
	}
}

func checkHeader(header []string, key CacheKey) error {
	if len(header) < 7 || header[0] != cacheMagic {
		return fmt.Errorf("%w: missing header", ErrCacheFormat)
	}
	want := []string{
		strconv.Itoa(CacheFormatVersion),
		strconv.Itoa(key.Cameras),
		strconv.Itoa(key.Params.HalfEdge),
		strconv.Itoa(key.Params.Step),
		strconv.Itoa(key.Params.height()),
		key.Fingerprint,
	}
	names := []string{"format", "cameras", "half_edge", "step", "height", "fingerprint"}
	for j, w := range want {
		if header[j+1] != w {
			return fmt.Errorf("%w: %s is %q, want %q", ErrCacheMismatch, names[j], header[j+1], w)
		}
	}
	return nil
}

func parseRecord(g *Grid, i int, record []string) error {
	var xyz [3]int
	for j := range xyz {
		v, err := strconv.Atoi(record[j])
		if err != nil {
			return fmt.Errorf("%w: record %d field %d: %v", ErrCacheFormat, i, j, err)
		}
		xyz[j] = v
	}
	idx, ok := g.Params.IndexOfWorld(xyz[0], xyz[1], xyz[2])
	if !ok || idx != i {
		return fmt.Errorf("%w: record %d holds voxel (%d,%d,%d) out of order", ErrCacheFormat, i, xyz[0], xyz[1], xyz[2])
	}

	for c := 0; c < g.Cameras; c++ {
		px, err := strconv.Atoi(record[3+3*c])
		if err != nil {
			return fmt.Errorf("%w: record %d camera %d: %v", ErrCacheFormat, i, c, err)
		}
		py, err := strconv.Atoi(record[4+3*c])
		if err != nil {
			return fmt.Errorf("%w: record %d camera %d: %v", ErrCacheFormat, i, c, err)
		}
		var valid bool
		switch record[5+3*c] {
		case "1":
			valid = true
		case "0":
		default:
			return fmt.Errorf("%w: record %d camera %d: validity %q", ErrCacheFormat, i, c, record[5+3*c])
		}
		g.SetProjection(i, c, image.Point{X: px, Y: py}, valid)
	}
	return nil
}
